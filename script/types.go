package script

import "time"

type Config struct {
	Timeout          time.Duration // zero disables the timer; ctx still applies
	MaxCallStackSize int
	EnableConsole    bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}

type Result struct {
	Value    any
	Console  []LogEntry
	Duration time.Duration
}

// LogEntry is one console call made by the script.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}
