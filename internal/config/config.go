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
	TelegramBotToken string
	RailAPIURL       string
	RailAPIKey       string
	DatabasePath     string
	LogLevel         string

	// Polling surface.
	TickInterval        time.Duration
	Lookahead           time.Duration
	DepartingSoonWindow time.Duration
	InTransitGrace      time.Duration
	MaxConcurrentFetch  int

	// Notification surface.
	DedupWindow time.Duration
	SendTimeout time.Duration
	// Applied to subscriptions that never set an explicit threshold.
	DefaultDelayThreshold int

	// Provider retry/backoff surface.
	FetchTimeout   time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Scheduler cooldown after a failing tick.
	FailureThreshold int
	CooldownBase     time.Duration
	CooldownMax      time.Duration

	// Optional station id -> display name overrides for message text,
	// "680=Tel Aviv Savidor;3700=Haifa Center".
	StationNames map[string]string
}

// DefaultRailAPIURL is the timetable search endpoint of the rail provider.
const DefaultRailAPIURL = "https://israelrail.azurefd.net/rjpa-prod/api/v1/timetable/searchTrainLuzForDateTime"

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	railKey := os.Getenv("RAIL_TOKEN")
	if railKey == "" {
		return nil, fmt.Errorf("RAIL_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		RailAPIURL:       envString("RAIL_API_URL", DefaultRailAPIURL),
		RailAPIKey:       railKey,
		DatabasePath:     envString("DATABASE_PATH", "./data/bot.db"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		StationNames:     map[string]string{},
	}

	var err error
	if cfg.TickInterval, err = envDuration("POLL_TICK", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Lookahead, err = envDuration("POLL_LOOKAHEAD", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DepartingSoonWindow, err = envDuration("DEPARTING_SOON_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.InTransitGrace, err = envDuration("IN_TRANSIT_GRACE", 3*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = envDuration("DEDUP_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = envDuration("SEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = envDuration("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = envDuration("RETRY_MAX_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CooldownBase, err = envDuration("COOLDOWN_BASE", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CooldownMax, err = envDuration("COOLDOWN_MAX", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentFetch, err = envInt("MAX_CONCURRENT_FETCH", 4); err != nil {
		return nil, err
	}
	if cfg.DefaultDelayThreshold, err = envInt("DELAY_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold, err = envInt("FAILURE_THRESHOLD", 3); err != nil {
		return nil, err
	}

	if raw := os.Getenv("STATION_NAMES"); raw != "" {
		names, err := parseStationNames(raw)
		if err != nil {
			return nil, err
		}
		cfg.StationNames = names
	}

	return cfg, nil
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q in %s: %w", raw, name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, raw)
	}
	return d, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q in %s: %w", raw, name, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %q", name, raw)
	}
	return n, nil
}

func parseStationNames(raw string) (map[string]string, error) {
	names := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid station name entry %q in STATION_NAMES", pair)
		}
		names[strings.TrimSpace(id)] = strings.TrimSpace(name)
	}
	return names, nil
}
