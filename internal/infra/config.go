package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"storyboard/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	AuthSecret  string

	// CallbackToken authenticates inbound executor callbacks.
	CallbackToken string

	// ExecutorURLs maps each job family to its worker base URL.
	ExecutorURLs    map[domain.JobFamily]string
	DispatchTimeout time.Duration

	// Reconciler knobs.
	PollInterval     time.Duration
	UnavailableAfter time.Duration
	MaxAttempts      int

	BatchWidth int

	SafetyClassifierURL string
	SafetyTimeout       time.Duration

	GeoIPDBPath    string
	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AuthSecret:  os.Getenv("AUTH_SECRET"),

		CallbackToken: os.Getenv("EXECUTOR_CALLBACK_TOKEN"),

		ExecutorURLs: map[domain.JobFamily]string{
			domain.FamilyIllustration:   getEnv("ILLUSTRATION_WORKER_URL", "http://localhost:8001"),
			domain.FamilyDialogueTiming: getEnv("DIALOGUE_WORKER_URL", "http://localhost:8002"),
			domain.FamilyTTS:            getEnv("TTS_WORKER_URL", "http://localhost:8002"),
			domain.FamilyAnimatic:       getEnv("ANIMATIC_WORKER_URL", "http://localhost:8003"),
			domain.FamilyExport:         getEnv("EXPORT_WORKER_URL", "http://localhost:8004"),
		},
		DispatchTimeout: time.Second * time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 10)),

		PollInterval:     time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 5)),
		UnavailableAfter: time.Second * time.Duration(getEnvInt("EXECUTOR_UNAVAILABLE_AFTER_SECONDS", 120)),
		MaxAttempts:      getEnvInt("MAX_DISPATCH_ATTEMPTS", 3),

		BatchWidth: getEnvInt("BATCH_FANOUT_WIDTH", 4),

		SafetyClassifierURL: os.Getenv("SAFETY_CLASSIFIER_URL"),
		SafetyTimeout:       time.Second * time.Duration(getEnvInt("SAFETY_TIMEOUT_SECONDS", 5)),

		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins: splitEnv("ALLOWED_ORIGINS"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
