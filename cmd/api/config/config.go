package config

import "time"

type Config struct {
	HistoryWindow       int
	DefaultPeriod       time.Duration
	TrialPeriodDays     int64
	GenerativeModelName string
}

func NewConfig() *Config {
	return &Config{
		HistoryWindow:       10,
		DefaultPeriod:       30 * 24 * time.Hour,
		TrialPeriodDays:     30,
		GenerativeModelName: "gemini-1.5-flash",
	}
}
