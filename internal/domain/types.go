// Package domain holds the plain data types threaded through the content
// and rendering pipeline.
package domain

// DeviceConfig is the per-device configuration loaded from the config store.
type DeviceConfig struct {
	MAC             string         `json:"mac"`
	Nickname        string         `json:"nickname"`
	Modes           []string       `json:"modes"`
	RefreshStrategy string         `json:"refresh_strategy"`
	CharacterTones  []string       `json:"character_tones"`
	Language        string         `json:"language"`
	ContentTone     string         `json:"content_tone"`
	City            string         `json:"city"`
	RefreshInterval int            `json:"refresh_interval"`
	LLMProvider     string         `json:"llm_provider"`
	LLMModel        string         `json:"llm_model"`
	// CustomFields carries per-mode user data: memo_text, birth_year,
	// life_expect, countdownEvents, habits and similar.
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// DayContext is the shared calendar context computed once per batch.
type DayContext struct {
	DateStr          string `json:"date_str"`
	TimeStr          string `json:"time_str"`
	Weekday          int    `json:"weekday"`
	Hour             int    `json:"hour"`
	IsWeekend        bool   `json:"is_weekend"`
	Year             int    `json:"year"`
	Day              int    `json:"day"`
	MonthCN          string `json:"month_cn"`
	WeekdayCN        string `json:"weekday_cn"`
	DayOfYear        int    `json:"day_of_year"`
	DaysInYear       int    `json:"days_in_year"`
	Festival         string `json:"festival"`
	IsHoliday        bool   `json:"is_holiday"`
	IsWorkday        bool   `json:"is_workday"`
	UpcomingHoliday  string `json:"upcoming_holiday"`
	DaysUntilHoliday int    `json:"days_until_holiday"`
	HolidayDate      string `json:"holiday_date"`
	DailyWord        string `json:"daily_word"`
}

// Weather is the current-conditions snapshot shown in the status strip.
type Weather struct {
	Temp int    `json:"temp"`
	Code int    `json:"weather_code"`
	Str  string `json:"weather_str"`
}

// RuntimeContext bundles everything content generation needs for one device.
type RuntimeContext struct {
	MAC     string
	Config  DeviceConfig
	Day     DayContext
	Weather Weather
}

// StatusParams feeds the status strip at the top of every rendered frame.
type StatusParams struct {
	DateStr     string
	TimeStr     string
	WeatherStr  string
	WeatherCode int
	BatteryPct  int
}

// Record is the flat field->value map produced by content generation and
// consumed positionally by the layout renderer.
type Record = map[string]any
