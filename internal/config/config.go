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
	ServiceName string

	// Maintenance backend
	CMMSBaseURL       string
	CMMSTimeout       time.Duration
	CMMSSubmitTimeout time.Duration

	// Sessions
	SessionBackend        string
	SessionIdleTimeout    time.Duration
	SessionTTL            time.Duration
	SessionReaperSchedule string
	StoreTimeout          time.Duration
	RedisAddr             string
	RedisPassword         string
	RedisTLS              bool

	// Dispatch
	DispatchMode         string
	WhatsAppDispatchMode string
	WebchatDispatchMode  string
	GatewayDispatchMode  string

	// Workflow runner
	WorkflowBackend        string
	WorkflowTriggerTimeout time.Duration
	AirflowBaseURL         string
	AirflowUsername        string
	AirflowPassword        string
	UseMemoryQueue         bool
	WorkflowQueueURL       string
	WorkflowRunsTable      string
	WorkerCount            int
	CallbackURL            string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	DatabaseURL string

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string
	TwilioWhatsAppFrom  string
	TwilioFromNumber    string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	dispatch := strings.ToLower(getEnv("DISPATCH_MODE", "inline"))
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "Somacor CMMS Bot"),

		CMMSBaseURL:       getEnv("CMMS_API_BASE_URL", "http://localhost:8000/api/"),
		CMMSTimeout:       getEnvAsDuration("CMMS_TIMEOUT", 5*time.Second),
		CMMSSubmitTimeout: getEnvAsDuration("CMMS_SUBMIT_TIMEOUT", 10*time.Second),

		SessionBackend:        strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
		SessionIdleTimeout:    getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionTTL:            getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionReaperSchedule: getEnv("SESSION_REAPER_SCHEDULE", "@every 1m"),
		StoreTimeout:          getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisTLS:              getEnvAsBool("REDIS_TLS", false),

		DispatchMode:         dispatch,
		WhatsAppDispatchMode: strings.ToLower(getEnv("WHATSAPP_DISPATCH_MODE", dispatch)),
		WebchatDispatchMode:  strings.ToLower(getEnv("WEBCHAT_DISPATCH_MODE", dispatch)),
		GatewayDispatchMode:  strings.ToLower(getEnv("GATEWAY_DISPATCH_MODE", "delegate")),

		WorkflowBackend:        strings.ToLower(getEnv("WORKFLOW_BACKEND", "queue")),
		WorkflowTriggerTimeout: getEnvAsDuration("WORKFLOW_TRIGGER_TIMEOUT", 3*time.Second),
		AirflowBaseURL:         getEnv("AIRFLOW_BASE_URL", ""),
		AirflowUsername:        getEnv("AIRFLOW_USERNAME", ""),
		AirflowPassword:        getEnv("AIRFLOW_PASSWORD", ""),
		UseMemoryQueue:         getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkflowQueueURL:       getEnv("WORKFLOW_QUEUE_URL", ""),
		WorkflowRunsTable:      getEnv("WORKFLOW_RUNS_TABLE", "workflow_runs"),
		WorkerCount:            getEnvAsInt("WORKER_COUNT", 2),
		CallbackURL:            getEnv("CALLBACK_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioWhatsAppFrom:  getEnv("TWILIO_WHATSAPP_FROM", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Somacor CMMS"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma-separated variable, dropping blanks.
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
