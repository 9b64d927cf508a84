// Package config holds the display constants, asset maps and business
// defaults shared across the content and rendering pipeline.
package config

// Reference screen geometry. Layouts are authored against this resolution;
// the renderer scales every fixed-pixel parameter by target/reference.
const (
	ScreenWidth  = 400
	ScreenHeight = 300

	// 1-bit e-ink palette.
	EinkBackground = 1 // white
	EinkForeground = 0 // black
)

// Business defaults applied when a device has no stored configuration.
const (
	DefaultCity            = "杭州"
	DefaultLLMProvider     = "deepseek"
	DefaultLLMModel        = "deepseek-chat"
	DefaultLanguage        = "zh"
	DefaultContentTone     = "neutral"
	DefaultRefreshInterval = 60 // minutes
)

// DefaultModes is the persona rotation used before a device is configured.
var DefaultModes = []string{"STOIC"}

// CacheTTLFactor pads the cache TTL past one full rotation of the enabled
// cacheable personas so entries survive until the device cycles back.
const CacheTTLFactor = 1.1

// WeatherIconMap maps WMO weather codes (open-meteo) to icon names.
var WeatherIconMap = map[int]string{
	0: "sunny", 1: "sunny", 2: "partly_cloudy", 3: "cloud",
	45: "foggy", 48: "foggy",
	51: "rainy", 53: "rainy", 55: "rainy", 56: "rainy", 57: "rainy",
	61: "rainy", 63: "rainy", 65: "rainy", 66: "rainy", 67: "rainy",
	71: "snow", 73: "snow", 75: "snow", 77: "snow",
	80: "rainy", 81: "rainy", 82: "rainy", 85: "snow", 86: "snow",
	95: "thunderstorm", 96: "thunderstorm", 99: "thunderstorm",
}

// Fonts maps logical font keys to TTF file names under the fonts directory.
var Fonts = map[string]string{
	"noto_serif_extralight": "NotoSerifSC-ExtraLight.ttf",
	"noto_serif_light":      "NotoSerifSC-Light.ttf",
	"noto_serif_regular":    "NotoSerifSC-Regular.ttf",
	"noto_serif_bold":       "NotoSerifSC-Bold.ttf",
	"noto_serif_extrabold":  "NotoSerifSC-ExtraBold.ttf",
	"lora_regular":          "Lora-Regular.ttf",
	"lora_bold":             "Lora-Bold.ttf",
	"inter_medium":          "Inter_24pt-Medium.ttf",
}

// WeekdayCN and MonthCN are the display names used by the date context.
var (
	WeekdayCN = []string{"周一", "周二", "周三", "周四", "周五", "周六", "周日"}
	MonthCN   = []string{
		"一月", "二月", "三月", "四月", "五月", "六月",
		"七月", "八月", "九月", "十月", "十一月", "十二月",
	}
)

// SolarFestivals keys are (month, day) on the Gregorian calendar.
var SolarFestivals = map[[2]int]string{
	{1, 1}:   "元旦",
	{2, 14}:  "情人节",
	{3, 8}:   "妇女节",
	{4, 1}:   "愚人节",
	{5, 1}:   "劳动节",
	{6, 1}:   "儿童节",
	{10, 1}:  "国庆节",
	{12, 25}: "圣诞节",
}

// DailyWords is the pool the date context samples one entry from per day.
var DailyWords = []string{
	"一日三秋", "春风化雨", "秋高气爽", "冬日暖阳", "夏日炎炎",
	"朝花夕拾", "岁月如梭", "时光荏苒", "白驹过隙", "光阴似箭",
	"晨钟暮鼓", "日新月异", "星移斗转", "寒来暑往", "花开花落",
	"云卷云舒", "潮起潮落", "月圆月缺", "风起云涌", "雨过天晴",
	"春眠不觉晓，处处闻啼鸟",
	"举头望明月，低头思故乡",
	"海上生明月，天涯共此时",
	"明月几时有，把酒问青天",
	"山重水复疑无路，柳暗花明又一村",
	"采菊东篱下，悠然见南山",
	"行到水穷处，坐看云起时",
}

// CityCoordinates resolves configured city names to lat/lon for open-meteo.
var CityCoordinates = map[string][2]float64{
	"北京": {39.90, 116.40}, "上海": {31.23, 121.47}, "广州": {23.13, 113.26},
	"深圳": {22.54, 114.06}, "杭州": {30.27, 120.15}, "南京": {32.06, 118.80},
	"成都": {30.57, 104.07}, "重庆": {29.56, 106.55}, "武汉": {30.59, 114.31},
	"西安": {34.26, 108.94}, "苏州": {31.30, 120.62}, "天津": {39.13, 117.20},
	"长沙": {28.23, 112.94}, "青岛": {36.07, 120.38}, "厦门": {24.48, 118.09},
	"香港": {22.32, 114.17}, "台北": {25.03, 121.57}, "东京": {35.68, 139.69},
	"首尔": {37.57, 126.98}, "新加坡": {1.35, 103.82}, "纽约": {40.71, -74.01},
	"伦敦": {51.51, -0.13}, "巴黎": {48.86, 2.35}, "悉尼": {-33.87, 151.21},
	"旧金山": {37.77, -122.42},
}

const (
	DefaultLatitude  = 31.23
	DefaultLongitude = 121.47
)
