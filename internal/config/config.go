// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken  string
	DatabasePath      string
	LogLevel          string
	PollInterval      time.Duration
	PollWorkers       int
	MaxQueriesPerUser int
	MetricsAddr       string
	AllowedUsers      []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/bot.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	pollInterval := time.Minute
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Second {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q", raw)
		}
		pollInterval = d
	}

	pollWorkers := 4
	if raw := os.Getenv("POLL_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid POLL_WORKERS %q", raw)
		}
		pollWorkers = n
	}

	maxQueries := 10
	if raw := os.Getenv("MAX_QUERIES_PER_USER"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_QUERIES_PER_USER %q", raw)
		}
		maxQueries = n
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	return &Config{
		TelegramBotToken:  token,
		DatabasePath:      dbPath,
		LogLevel:          logLevel,
		PollInterval:      pollInterval,
		PollWorkers:       pollWorkers,
		MaxQueriesPerUser: maxQueries,
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		AllowedUsers:      allowedUsers,
	}, nil
}

// IsUserAllowed checks whether a Telegram user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
