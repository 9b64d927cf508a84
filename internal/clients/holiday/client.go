// Package holiday queries the mainland-China workday calendar API used to
// enrich the daily context. Failures degrade to "not a holiday" instead of
// surfacing errors.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/utils"
)

type Info struct {
	IsHoliday bool
	IsWorkday bool
	Name      string
}

type Upcoming struct {
	Name      string
	DaysUntil int
	Date      string // "MM月DD日"
	Duration  int
}

type Client interface {
	DayInfo(ctx context.Context, day time.Time) Info
	Next(ctx context.Context, now time.Time) Upcoming
}

type client struct {
	log        *logger.Logger
	workURL    string
	nextURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) Client {
	l := log.With("service", "HolidayClient")
	return &client{
		log:        l,
		workURL:    utils.GetEnv("HOLIDAY_WORK_API_URL", "https://date.appworlds.cn/work", l),
		nextURL:    utils.GetEnv("HOLIDAY_NEXT_API_URL", "https://date.appworlds.cn/next", l),
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *client) DayInfo(ctx context.Context, day time.Time) Info {
	var payload struct {
		Code int `json:"code"`
		Data struct {
			Work bool `json:"work"`
		} `json:"data"`
	}
	params := url.Values{"date": {day.Format("2006-01-02")}}
	if err := c.get(ctx, c.workURL+"?"+params.Encode(), &payload); err != nil {
		c.log.Debug("Workday lookup failed", "error", err)
		return Info{}
	}
	if payload.Code != 200 {
		return Info{}
	}
	return Info{IsHoliday: !payload.Data.Work, IsWorkday: payload.Data.Work}
}

func (c *client) Next(ctx context.Context, now time.Time) Upcoming {
	var payload struct {
		Code int `json:"code"`
		Data struct {
			Name string `json:"name"`
			Date string `json:"date"`
			Days int    `json:"days"`
		} `json:"data"`
	}
	if err := c.get(ctx, c.nextURL, &payload); err != nil {
		c.log.Debug("Upcoming holiday lookup failed", "error", err)
		return Upcoming{}
	}
	if payload.Code != 200 || payload.Data.Date == "" {
		return Upcoming{}
	}
	date, err := time.Parse("2006-01-02", payload.Data.Date)
	if err != nil {
		return Upcoming{}
	}
	daysUntil := int(date.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
	if daysUntil < 0 {
		daysUntil = 0
	}
	return Upcoming{
		Name:      payload.Data.Name,
		DaysUntil: daysUntil,
		Date:      fmt.Sprintf("%02d月%02d日", int(date.Month()), date.Day()),
		Duration:  payload.Data.Days,
	}
}

func (c *client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("holiday api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
