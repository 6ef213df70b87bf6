package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	// Chat platform configuration
	TelegramBotToken   string
	SlackBotToken      string
	SlackSigningSecret string
	SupportTrigger     string

	// Server configuration
	Port         string
	Env          string
	DashboardURL string

	// Database configuration
	DBDriver    string
	DBPath      string
	DatabaseURL string
	SeedFile    string

	// Shared coordination
	RedisURL string

	// Escalation configuration
	EscalationTimeout      time.Duration
	EscalationPollInterval time.Duration
	DeliveryTimeout        time.Duration

	// Conversation tracking
	ConversationTTL time.Duration
	ReplyWindow     time.Duration

	// Automated answers
	AutoResponseFloor float64
	AckEnabled        bool
	AckText           string
	AckInterval       time.Duration

	// On-call schedule
	ScheduleTimezone string
}

const defaultAckText = "Thanks for reaching out! I've notified our on-call technician and someone will assist you shortly. This is an automated acknowledgement."

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		SlackBotToken:          getEnv("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret:     getEnv("SLACK_SIGNING_SECRET", ""),
		SupportTrigger:         strings.ToLower(getEnv("SUPPORT_TRIGGER", "@support")),
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		DashboardURL:           strings.TrimRight(getEnv("DASHBOARD_URL", "http://localhost:8080"), "/"),
		DBDriver:               getEnv("DB_DRIVER", "sqlite"),
		DBPath:                 getEnv("DB_PATH", "./data/support.db"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		SeedFile:               getEnv("SEED_FILE", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		EscalationTimeout:      getEnvPositiveDuration("ESCALATION_TIMEOUT", 15*time.Minute),
		EscalationPollInterval: getEnvPositiveDuration("ESCALATION_POLL_INTERVAL", time.Minute),
		DeliveryTimeout:        getEnvPositiveDuration("DELIVERY_TIMEOUT", 10*time.Second),
		ConversationTTL:        getEnvPositiveDuration("CONVERSATION_TTL", 2*time.Hour),
		ReplyWindow:            getEnvPositiveDuration("REPLY_WINDOW", time.Hour),
		AutoResponseFloor:      getEnvFloat("AUTO_RESPONSE_FLOOR", 0.6),
		AckEnabled:             getEnvBool("ACK_ENABLED", true),
		AckText:                getEnv("ACK_TEXT", defaultAckText),
		AckInterval:            getEnvDuration("ACK_INTERVAL", 10*time.Minute),
		ScheduleTimezone:       getEnv("SCHEDULE_TIMEZONE", "Local"),
	}
}

// Location resolves the schedule timezone, falling back to the process
// local zone when the name is unknown.
func (c *Config) Location() *time.Location {
	if c.ScheduleTimezone == "" || c.ScheduleTimezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", c.ScheduleTimezone).Warn("Unknown schedule timezone, using local time")
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("15m") or a bare number of
// seconds ("900").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds := getEnvInt(key, -1); seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// getEnvPositiveDuration is getEnvDuration for settings where zero or a
// negative value would stall or crash a loop.
func getEnvPositiveDuration(key string, defaultValue time.Duration) time.Duration {
	d := getEnvDuration(key, defaultValue)
	if d <= 0 {
		logrus.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Duration must be positive, using default")
		return defaultValue
	}
	return d
}
