// Package almanac assembles the per-day calendar context shared by every
// persona in one regeneration batch: date strings, festivals, holiday
// lookups and the daily word.
package almanac

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/inksight/inksight-backend/internal/clients/holiday"
	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
)

const contextTTL = 15 * time.Minute

type Service interface {
	DayContext(ctx context.Context) domain.DayContext
}

type service struct {
	log     *logger.Logger
	holiday holiday.Client
	now     func() time.Time

	mu       sync.Mutex
	cached   domain.DayContext
	cachedAt time.Time
}

func NewService(log *logger.Logger, holidayClient holiday.Client) (Service, error) {
	if holidayClient == nil {
		return nil, fmt.Errorf("holiday client is required")
	}
	return &service{
		log:     log.With("service", "Almanac"),
		holiday: holidayClient,
		now:     time.Now,
	}, nil
}

func (s *service) DayContext(ctx context.Context) domain.DayContext {
	s.mu.Lock()
	if !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) < contextTTL {
		dc := s.cached
		s.mu.Unlock()
		// Time-of-day fields stay live even when the rest is memoized.
		now := s.now()
		dc.TimeStr = now.Format("15:04:05")
		dc.Hour = now.Hour()
		return dc
	}
	s.mu.Unlock()

	dc := s.build(ctx)
	s.mu.Lock()
	s.cached = dc
	s.cachedAt = s.now()
	s.mu.Unlock()
	return dc
}

func (s *service) build(ctx context.Context) domain.DayContext {
	now := s.now()
	weekdayIdx := int(now.Weekday()+6) % 7 // Monday = 0

	festival := config.SolarFestivals[[2]int{int(now.Month()), now.Day()}]

	info := s.holiday.DayInfo(ctx, now)
	if festival == "" && info.Name != "" {
		festival = info.Name
	}
	upcoming := s.holiday.Next(ctx, now)

	// Stable within a day so cached personas agree on the word.
	rng := rand.New(rand.NewSource(int64(now.Year())*10000 + int64(now.YearDay())))
	dailyWord := config.DailyWords[rng.Intn(len(config.DailyWords))]

	return domain.DayContext{
		DateStr:          fmt.Sprintf("%d月%d日 %s", int(now.Month()), now.Day(), config.WeekdayCN[weekdayIdx]),
		TimeStr:          now.Format("15:04:05"),
		Weekday:          weekdayIdx,
		Hour:             now.Hour(),
		IsWeekend:        weekdayIdx >= 5,
		Year:             now.Year(),
		Day:              now.Day(),
		MonthCN:          config.MonthCN[int(now.Month())-1],
		WeekdayCN:        config.WeekdayCN[weekdayIdx],
		DayOfYear:        now.YearDay(),
		DaysInYear:       daysInYear(now.Year()),
		Festival:         festival,
		IsHoliday:        info.IsHoliday,
		IsWorkday:        info.IsWorkday,
		UpcomingHoliday:  upcoming.Name,
		DaysUntilHoliday: upcoming.DaysUntil,
		HolidayDate:      upcoming.Date,
		DailyWord:        dailyWord,
	}
}

func daysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}
