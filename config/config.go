package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrMissingAPIKey is returned by Validate when no provider credential is set
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not defined in environment variables")

// Config holds application configuration
type Config struct {
	// Server
	ServerPort   string
	GinMode      string
	CORSOrigins  []string
	MaxBodyBytes int64

	// Logging
	LogLevel  string
	LogPretty bool

	// Provider
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	Model           string
	TTSModel        string
	Voice           string
	AudioFormat     string
	STTModel        string
	Temperature     float64
	MaxTokens       int
	ProviderTimeout time.Duration

	// Sessions
	SessionBackend string
	RedisURL       string
	SessionTTL     time.Duration

	// Archive, disabled when empty
	ArchiveDSN string

	// Agent persona and affordances
	PromptFile      string
	KnowledgeDirs   []string
	BookingURL      string
	BookingLabel    string
	MeetingKeywords []string
	Prompt          Prompt
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional for local development)
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:  getEnv("PORT", "3001"),
		GinMode:     getEnv("GIN_MODE", "release"),
		CORSOrigins: getList("CORS_ORIGINS", []string{"*"}),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", false),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		Model:         getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
		TTSModel:      getEnv("OPENAI_TTS_MODEL", "tts-1-hd"),
		Voice:         getEnv("OPENAI_VOICE", "alloy"),
		AudioFormat:   getEnv("OPENAI_AUDIO_FORMAT", "wav"),
		STTModel:      getEnv("OPENAI_STT_MODEL", "whisper-1"),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", BackendMemory)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),

		ArchiveDSN: os.Getenv("ARCHIVE_DSN"),

		PromptFile:    os.Getenv("PROMPT_FILE"),
		KnowledgeDirs: getList("KNOWLEDGE_DIR", nil),
		BookingURL:    os.Getenv("BOOKING_URL"),
		BookingLabel:  getEnv("BOOKING_LABEL", "Book a meeting"),
		MeetingKeywords: getList("MEETING_KEYWORDS",
			[]string{"project", "projet", "meeting", "rdv", "appointment", "call"}),
	}

	var err error
	if cfg.MaxBodyBytes, err = getInt64("MAX_BODY_BYTES", 50<<20); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = getFloat("OPENAI_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	maxTokens, err := getInt64("OPENAI_MAX_TOKENS", 500)
	if err != nil {
		return nil, err
	}
	cfg.MaxTokens = int(maxTokens)
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.Prompt, err = LoadPrompt(cfg.PromptFile)
	if err != nil {
		return nil, err
	}
	if cfg.Prompt.Knowledge, err = LoadKnowledge(cfg.KnowledgeDirs); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that the server cannot start without
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND: %s", c.SessionBackend)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("OPENAI_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getList splits a comma separated variable, dropping blanks
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
