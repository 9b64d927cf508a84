// Package weather fetches current conditions and daily forecasts from the
// Open-Meteo API. Results are memoized so a regeneration fan-out does not
// hammer the upstream once per persona.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inksight/inksight-backend/internal/config"
	"github.com/inksight/inksight-backend/internal/domain"
	"github.com/inksight/inksight-backend/internal/logger"
)

const (
	currentTTL  = 30 * time.Minute
	forecastTTL = 30 * time.Minute
)

var weekdayShort = []string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}

type Client interface {
	Current(ctx context.Context, city string) domain.Weather
	Forecast(ctx context.Context, city string, days int) (domain.Record, error)
}

type cacheEntry struct {
	val any
	at  time.Time
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

func NewClient(log *logger.Logger) Client {
	return &client{
		log:        log.With("service", "WeatherClient"),
		baseURL:    "https://api.open-meteo.com/v1/forecast",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
}

func resolveCity(city string) (float64, float64) {
	if city == "" {
		return config.DefaultLatitude, config.DefaultLongitude
	}
	if c, ok := config.CityCoordinates[city]; ok {
		return c[0], c[1]
	}
	for name, c := range config.CityCoordinates {
		if strings.Contains(city, name) || strings.Contains(name, city) {
			return c[0], c[1]
		}
	}
	return config.DefaultLatitude, config.DefaultLongitude
}

func (c *client) cached(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || c.now().Sub(e.at) >= ttl {
		delete(c.cache, key)
		return nil, false
	}
	return e.val, true
}

func (c *client) store(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{val: val, at: c.now()}
}

// Current returns the status-strip snapshot. Failures degrade to the
// placeholder reading rather than an error: the frame must always render.
func (c *client) Current(ctx context.Context, city string) domain.Weather {
	key := "current:" + city
	if v, ok := c.cached(key, currentTTL); ok {
		return v.(domain.Weather)
	}

	lat, lon := resolveCity(city)
	params := url.Values{
		"latitude":  {formatCoord(lat)},
		"longitude": {formatCoord(lon)},
		"current":   {"temperature_2m,weather_code"},
		"timezone":  {"auto"},
	}

	var payload struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		c.log.Warn("Current weather fetch failed", "city", city, "error", err)
		return domain.Weather{Temp: 0, Code: -1, Str: "--°C"}
	}

	temp := int(roundHalf(payload.Current.Temperature))
	w := domain.Weather{
		Temp: temp,
		Code: payload.Current.WeatherCode,
		Str:  fmt.Sprintf("%d°C", temp),
	}
	c.store(key, w)
	return w
}

// Forecast returns the record consumed by weather_forecast content: today's
// detail fields plus a per-day list for the temperature chart.
func (c *client) Forecast(ctx context.Context, city string, days int) (domain.Record, error) {
	if days <= 0 {
		days = 3
	}
	displayCity := city
	if displayCity == "" {
		displayCity = config.DefaultCity
	}
	key := fmt.Sprintf("forecast:%s:%d", displayCity, days)
	if v, ok := c.cached(key, forecastTTL); ok {
		return v.(domain.Record), nil
	}

	lat, lon := resolveCity(displayCity)
	params := url.Values{
		"latitude":  {formatCoord(lat)},
		"longitude": {formatCoord(lon)},
		"daily": {strings.Join([]string{
			"temperature_2m_max", "temperature_2m_min", "weather_code",
			"relative_humidity_2m_mean", "winddirection_10m_dominant",
			"windspeed_10m_max", "sunrise", "sunset",
		}, ",")},
		"timezone":      {"auto"},
		"forecast_days": {strconv.Itoa(days + 1)},
	}

	var payload struct {
		Daily struct {
			Time        []string  `json:"time"`
			TempMax     []float64 `json:"temperature_2m_max"`
			TempMin     []float64 `json:"temperature_2m_min"`
			WeatherCode []int     `json:"weather_code"`
			Humidity    []float64 `json:"relative_humidity_2m_mean"`
			WindDir     []float64 `json:"winddirection_10m_dominant"`
			WindSpeed   []float64 `json:"windspeed_10m_max"`
			Sunrise     []string  `json:"sunrise"`
			Sunset      []string  `json:"sunset"`
		} `json:"daily"`
	}
	if err := c.get(ctx, params, &payload); err != nil {
		return nil, fmt.Errorf("forecast fetch: %w", err)
	}

	d := payload.Daily
	today := c.now()
	n := len(d.Time)
	if n > days+1 {
		n = days + 1
	}

	forecast := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		date, err := time.Parse("2006-01-02", d.Time[i])
		if err != nil {
			continue
		}
		delta := int(date.Sub(today.Truncate(24 * time.Hour)).Hours() / 24)
		var label string
		switch delta {
		case -1:
			label = "昨天"
		case 0:
			label = "今天"
		case 1:
			label = "明天"
		default:
			label = weekdayShort[int(date.Weekday()+6)%7]
		}

		code := -1
		if i < len(d.WeatherCode) {
			code = d.WeatherCode[i]
		}
		tMin, tMax := "--", "--"
		if i < len(d.TempMin) {
			tMin = strconv.Itoa(int(roundHalf(d.TempMin[i])))
		}
		if i < len(d.TempMax) {
			tMax = strconv.Itoa(int(roundHalf(d.TempMax[i])))
		}
		forecast = append(forecast, map[string]any{
			"day":        label,
			"date":       date.Format("01/02"),
			"temp_range": tMin + "℃ / " + tMax + "℃",
			"temp_min":   tMin,
			"temp_max":   tMax,
			"desc":       codeDesc(code),
			"code":       code,
		})
	}
	if len(forecast) == 0 {
		return nil, fmt.Errorf("forecast payload empty")
	}

	first := forecast[0]
	rec := domain.Record{
		"city":        displayCity,
		"today_temp":  first["temp_max"],
		"today_desc":  first["desc"],
		"today_code":  first["code"],
		"today_low":   first["temp_min"],
		"today_high":  first["temp_max"],
		"today_range": fmt.Sprintf("%v°C / %v°C", first["temp_min"], first["temp_max"]),
		"forecast":    forecast,
	}

	if len(d.Humidity) > 0 {
		rec["today_humidity"] = strconv.Itoa(int(roundHalf(d.Humidity[0])))
	} else {
		rec["today_humidity"] = "--"
	}
	if len(d.WindDir) > 0 {
		rec["today_wind_dir"] = windDirName(d.WindDir[0])
	}
	if len(d.WindSpeed) > 0 {
		level := int(roundHalf(d.WindSpeed[0] / 2))
		if level < 1 {
			level = 1
		}
		if level > 12 {
			level = 12
		}
		rec["today_wind_level"] = fmt.Sprintf("%d级", level)
	}
	if len(d.Sunrise) > 0 {
		rec["sunrise"] = clockOf(d.Sunrise[0])
	}
	if len(d.Sunset) > 0 {
		rec["sunset"] = clockOf(d.Sunset[0])
	}

	c.store(key, rec)
	return rec, nil
}

func (c *client) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("open-meteo status %d: %s", resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func codeDesc(code int) string {
	switch code {
	case 0:
		return "晴"
	case 1, 2:
		return "多云"
	case 3:
		return "阴"
	case 45, 48:
		return "雾"
	case 51, 61:
		return "小雨"
	case 53, 63:
		return "中雨"
	case 55, 65:
		return "大雨"
	case 71:
		return "小雪"
	case 73:
		return "中雪"
	case 75:
		return "大雪"
	case 80, 81:
		return "阵雨"
	case 82:
		return "暴雨"
	case 95:
		return "雷阵雨"
	case 96, 99:
		return "冰雹"
	}
	return "未知"
}

func windDirName(deg float64) string {
	dirs := []string{"北风", "东北风", "东风", "东南风", "南风", "西南风", "西风", "西北风"}
	idx := int((deg+22.5)/45) % 8
	if idx < 0 {
		idx += 8
	}
	return dirs[idx]
}

func clockOf(iso string) string {
	t, err := time.Parse("2006-01-02T15:04", iso)
	if err != nil {
		return ""
	}
	return t.Format("15:04")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func roundHalf(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}
