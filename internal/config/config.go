package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	WorkerCount int
	QueueBuffer int

	// WhatsApp Business Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	WhatsAppAPIBaseURL    string

	// Scoring (OpenAI-compatible chat completion endpoint)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	ScorerTimeout time.Duration

	// Notification decision
	NotifyThreshold int
	TestingMode     bool

	// Recipient directory
	RecipientsFile string

	// Session memory
	InactivityWindow  time.Duration
	ActiveWindowTurns int
	IdleWindowTurns   int
	SweepInterval     time.Duration

	// Conversation archive
	ArchivePath     string
	ArchiveCapacity int

	// Redis transcript mirror (optional)
	RedisAddr     string
	RedisPassword string

	// Email provider: "sendgrid", "ses", or "" to disable
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
	AWSRegion         string

	// Per-recipient send timeout inside a dispatch fan-out
	DispatchSendTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 2),
		QueueBuffer: getEnvAsInt("QUEUE_BUFFER", 128),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAPIBaseURL:    getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v21.0"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ScorerTimeout: getEnvAsDuration("SCORER_TIMEOUT", 30*time.Second),

		NotifyThreshold: getEnvAsInt("MIN_LEAD_SCORE_TO_NOTIFY", 7),
		TestingMode:     getEnvAsBool("NOTIFY_TESTING_MODE", false),

		RecipientsFile: getEnv("RECIPIENTS_FILE", "recipients.json"),

		InactivityWindow:  getEnvAsDuration("SESSION_INACTIVITY_WINDOW", time.Hour),
		ActiveWindowTurns: getEnvAsInt("SESSION_ACTIVE_WINDOW_TURNS", 10),
		IdleWindowTurns:   getEnvAsInt("SESSION_IDLE_WINDOW_TURNS", 3),
		SweepInterval:     getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),

		ArchivePath:     getEnv("ARCHIVE_PATH", "conversations_history.json"),
		ArchiveCapacity: getEnvAsInt("ARCHIVE_CAPACITY", 500),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", ""))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Lead Relay"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Lead Relay"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),

		DispatchSendTimeout: getEnvAsDuration("DISPATCH_SEND_TIMEOUT", 15*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
