package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	DatabaseURL    string
	ClinicTimezone string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Payment gateway
	PaymentGatewayBaseURL   string
	PaymentGatewayKeyID     string
	PaymentGatewayKeySecret string
	PaymentWebhookSecret    string
	PaymentCurrency         string
	PaymentGatewayTimeout   time.Duration
	PaymentDryRun           bool
	CheckoutMaxPerOwner     int
	CheckoutWindow          time.Duration

	// Video provider
	VideoProviderBaseURL string
	VideoProviderAPIKey  string
	VideoProviderTimeout time.Duration
	VideoDryRun          bool

	// Email
	EmailProvider       string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESConfigurationSet string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AuthJWTSecret      string
	CORSAllowedOrigins []string

	ReminderSweepInterval time.Duration
	FollowUpSweepInterval time.Duration
	SweepBatchSize        int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PaymentGatewayBaseURL:   getEnv("PAYMENT_GATEWAY_BASE_URL", "https://api.razorpay.com"),
		PaymentGatewayKeyID:     getEnv("PAYMENT_GATEWAY_KEY_ID", ""),
		PaymentGatewayKeySecret: getEnv("PAYMENT_GATEWAY_KEY_SECRET", ""),
		PaymentWebhookSecret:    getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentCurrency:         strings.ToUpper(getEnv("PAYMENT_CURRENCY", "INR")),
		PaymentGatewayTimeout:   getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		PaymentDryRun:           getEnvAsBool("PAYMENT_DRY_RUN", false),
		CheckoutMaxPerOwner:     getEnvAsInt("CHECKOUT_MAX_PER_OWNER", 5),
		CheckoutWindow:          getEnvAsDuration("CHECKOUT_WINDOW", 10*time.Minute),

		VideoProviderBaseURL: getEnv("VIDEO_PROVIDER_BASE_URL", "https://api.videosdk.live"),
		VideoProviderAPIKey:  getEnv("VIDEO_PROVIDER_API_KEY", ""),
		VideoProviderTimeout: getEnvAsDuration("VIDEO_PROVIDER_TIMEOUT", 10*time.Second),
		VideoDryRun:          getEnvAsBool("VIDEO_DRY_RUN", false),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "VetCare"),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		ReminderSweepInterval: getEnvAsDuration("REMINDER_SWEEP_INTERVAL", 30*time.Second),
		FollowUpSweepInterval: getEnvAsDuration("FOLLOWUP_SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:        getEnvAsInt("SWEEP_BATCH_SIZE", 50),
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
