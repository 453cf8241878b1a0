package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSlots is the clinic's fixed ordered list of bookable start times.
var DefaultSlots = []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Conversation state
	StateBackend           string
	ConversationStateTable string
	ConversationTTL        time.Duration
	IdempotencyTTL         time.Duration
	IdempotencyBackend     string

	// LLM providers
	LLMProvider         string
	LLMFallbackProvider string
	LLMTimeout          time.Duration
	OpenAIAPIKey        string
	NLUModel            string
	NLGModel            string
	KnowledgeBasePath   string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string

	// WhatsApp transport
	WhatsAppProvider     string
	EvolutionAPIURL      string
	EvolutionAPIKey      string
	EvolutionInstance    string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFromNumber     string
	UseMemoryQueue       bool
	WorkerCount          int
	ProcessTimeout       time.Duration
	ConversationQueueURL string

	// Clinic calendar
	GoogleCalendarID      string
	GoogleCredentialsFile string
	ClinicTimezone        string
	AvailableSlots        []string
	AppointmentDuration   time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	DLQArchiveBucket    string
	DLQReplayInterval   time.Duration

	AdminJWTSecret string

	// Clinic notifications
	NotifyEmailProvider string
	SendGridAPIKey      string
	NotifyFromEmail     string
	NotifyFromName      string
	ClinicNotifyEmail   string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		StateBackend:           strings.ToLower(getEnv("STATE_BACKEND", "redis")),
		ConversationStateTable: getEnv("CONVERSATION_STATE_TABLE", "conversation_state"),
		ConversationTTL:        getEnvAsDuration("CONVERSATION_TTL", time.Hour),
		IdempotencyTTL:         getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyBackend:     strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", "redis")),

		LLMProvider:         strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMFallbackProvider: strings.ToLower(getEnv("LLM_FALLBACK_PROVIDER", "")),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		NLUModel:            getEnv("NLU_MODEL", "gpt-4o-mini"),
		NLGModel:            getEnv("NLG_MODEL", "gpt-4o-mini"),
		KnowledgeBasePath:   getEnv("KNOWLEDGE_BASE_PATH", "docs/FAQ.md"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		WhatsAppProvider:     strings.ToLower(getEnv("WHATSAPP_PROVIDER", "evolution")),
		EvolutionAPIURL:      strings.TrimRight(getEnv("EVOLUTION_API_URL", "http://localhost:8080"), "/"),
		EvolutionAPIKey:      getEnv("EVOLUTION_API_KEY", ""),
		EvolutionInstance:    getEnv("EVOLUTION_INSTANCE", "odontosorriso"),
		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:     getEnv("TWILIO_FROM_NUMBER", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		ProcessTimeout:       getEnvAsDuration("PROCESS_TIMEOUT", 30*time.Second),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		ClinicTimezone:        getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		AvailableSlots:        getEnvAsList("AVAILABLE_SLOTS", DefaultSlots),
		AppointmentDuration:   getEnvAsDuration("APPOINTMENT_DURATION", time.Hour),

		AWSRegion:           getEnv("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DLQArchiveBucket:    getEnv("DLQ_ARCHIVE_BUCKET", ""),
		DLQReplayInterval:   getEnvAsDuration("DLQ_REPLAY_INTERVAL", time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		NotifyEmailProvider: strings.ToLower(getEnv("NOTIFY_EMAIL_PROVIDER", "none")),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		NotifyFromEmail:     getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName:      getEnv("NOTIFY_FROM_NAME", "OdontoSorriso"),
		ClinicNotifyEmail:   getEnv("CLINIC_NOTIFY_EMAIL", ""),
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
