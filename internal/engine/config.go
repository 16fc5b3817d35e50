package engine

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Timing defines the engine's dedup and challenge windows. Zero values fall
// back to the built-in defaults.
type Timing struct {
	DismissWindowSeconds int `yaml:"dismiss_window_seconds"`
	AckWindowMinutes     int `yaml:"ack_window_minutes"`
	GateWindowSeconds    int `yaml:"gate_window_seconds"`
	WakeCheckMinutes     int `yaml:"wake_check_minutes"`
}

// Config defines engine configuration.
type Config struct {
	DatabaseURL         string `yaml:"database_url"`
	HTTPAddr            string `yaml:"http_addr"`
	JWTSecret           string `yaml:"jwt_secret"`
	AlarmWebhookURL     string `yaml:"alarm_webhook_url"`
	AlarmNotifyTemplate string `yaml:"alarm_notify_template"`
	Timing              Timing `yaml:"timing"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		AlarmWebhookURL:     getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmNotifyTemplate: getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		Timing: Timing{
			DismissWindowSeconds: getenvIntDefault("DISMISS_WINDOW_SECONDS", 10),
			AckWindowMinutes:     getenvIntDefault("ACK_WINDOW_MINUTES", 10),
			GateWindowSeconds:    getenvIntDefault("GATE_WINDOW_SECONDS", 20),
			WakeCheckMinutes:     getenvIntDefault("WAKE_CHECK_MINUTES", 5),
		},
	}

	if path := os.Getenv("CHRONA_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("engine: database url required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("engine: jwt secret required")
	}
	return cfg, nil
}

// DismissWindow returns the primary-fire dedup window.
func (t Timing) DismissWindow() time.Duration {
	if t.DismissWindowSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.DismissWindowSeconds) * time.Second
}

// AckWindow returns the acknowledgment dedup window.
func (t Timing) AckWindow() time.Duration {
	if t.AckWindowMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(t.AckWindowMinutes) * time.Minute
}

// GateWindow returns the acknowledgment gate window.
func (t Timing) GateWindow() time.Duration {
	if t.GateWindowSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(t.GateWindowSeconds) * time.Second
}

// WakeCheckDelay returns the default follow-up delay for alarms that do not
// carry their own.
func (t Timing) WakeCheckDelay() time.Duration {
	if t.WakeCheckMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(t.WakeCheckMinutes) * time.Minute
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
