package almanac

import (
	"context"
	"testing"
	"time"

	"github.com/inksight/inksight-backend/internal/clients/holiday"
	"github.com/inksight/inksight-backend/internal/logger"
)

type fakeHoliday struct {
	info holiday.Info
	next holiday.Upcoming
}

func (f fakeHoliday) DayInfo(ctx context.Context, day time.Time) holiday.Info { return f.info }

func (f fakeHoliday) Next(ctx context.Context, now time.Time) holiday.Upcoming { return f.next }

func fixedService(t *testing.T, day string, h holiday.Client) (*service, func(time.Time)) {
	t.Helper()
	now, err := time.Parse("2006-01-02 15:04:05", day)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	s := &service{
		log:     logger.NewNop().With("service", "Almanac"),
		holiday: h,
		now:     func() time.Time { return now },
	}
	return s, func(to time.Time) { now = to }
}

func TestDaysInYear(t *testing.T) {
	cases := []struct {
		year, want int
	}{
		{2024, 366},
		{2025, 365},
		{2000, 366},
		{2100, 365},
	}
	for _, tc := range cases {
		if got := daysInYear(tc.year); got != tc.want {
			t.Fatalf("daysInYear(%d) = %d, want %d", tc.year, got, tc.want)
		}
	}
}

func TestDayContext_BuildsCalendarFields(t *testing.T) {
	s, _ := fixedService(t, "2026-08-01 09:15:30", fakeHoliday{
		info: holiday.Info{IsHoliday: true},
		next: holiday.Upcoming{Name: "中秋节", DaysUntil: 55, Date: "09月25日"},
	})
	dc := s.DayContext(context.Background())

	if dc.DateStr != "8月1日 周六" {
		t.Fatalf("date = %q", dc.DateStr)
	}
	if dc.TimeStr != "09:15:30" {
		t.Fatalf("time = %q", dc.TimeStr)
	}
	if !dc.IsWeekend || dc.Weekday != 5 {
		t.Fatalf("weekday = %d, weekend = %v", dc.Weekday, dc.IsWeekend)
	}
	if dc.DayOfYear != 213 || dc.DaysInYear != 365 {
		t.Fatalf("day of year = %d/%d", dc.DayOfYear, dc.DaysInYear)
	}
	if !dc.IsHoliday {
		t.Fatalf("holiday flag lost")
	}
	if dc.UpcomingHoliday != "中秋节" || dc.DaysUntilHoliday != 55 {
		t.Fatalf("upcoming = %q in %d days", dc.UpcomingHoliday, dc.DaysUntilHoliday)
	}
	if dc.DailyWord == "" {
		t.Fatalf("daily word empty")
	}
}

func TestDayContext_FestivalFromSolarCalendar(t *testing.T) {
	s, _ := fixedService(t, "2026-10-01 08:00:00", fakeHoliday{
		info: holiday.Info{Name: "国庆节补充"},
	})
	dc := s.DayContext(context.Background())
	// The solar table wins over the holiday API name.
	if dc.Festival != "国庆节" {
		t.Fatalf("festival = %q", dc.Festival)
	}
}

func TestDayContext_MemoizesButKeepsClockLive(t *testing.T) {
	s, setNow := fixedService(t, "2026-08-01 09:00:00", fakeHoliday{})
	first := s.DayContext(context.Background())

	later, _ := time.Parse("2006-01-02 15:04:05", "2026-08-01 09:10:00")
	setNow(later)
	second := s.DayContext(context.Background())

	if second.TimeStr != "09:10:00" || second.Hour != 9 {
		t.Fatalf("clock fields stale: %q hour %d", second.TimeStr, second.Hour)
	}
	if second.DateStr != first.DateStr || second.DailyWord != first.DailyWord {
		t.Fatalf("memoized fields changed within the ttl")
	}
}
