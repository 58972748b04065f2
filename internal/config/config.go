package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	Env     string
	LLM     LLMConfig
	HA      HomeAssistantConfig
	Store   StoreConfig
	Archive ArchiveConfig
	Correct CorrectionConfig
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
}

type HomeAssistantConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type StoreConfig struct {
	FilePath string
	DSN      string
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CorrectionConfig struct {
	Enabled       bool
	MaxIterations int
	Threshold     float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8082", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:    *port,
		Env:     env,
		LLM:     loadLLMConfig(),
		HA:      loadHAConfig(),
		Store:   loadStoreConfig(),
		Archive: loadArchiveConfig(env),
		Correct: loadCorrectionConfig(),
	}, nil
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_PROVIDER")), "gemini"),
		Model:    firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_MODEL")), "gemini-2.0-flash"),
		APIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
	}
}

func loadHAConfig() HomeAssistantConfig {
	timeout := 15 * time.Second
	if raw := strings.TrimSpace(os.Getenv("HA_TIMEOUT_SECONDS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	return HomeAssistantConfig{
		BaseURL: firstNonEmpty(strings.TrimSpace(os.Getenv("HA_BASE_URL")), "http://homeassistant.local:8123"),
		Token:   strings.TrimSpace(os.Getenv("HA_TOKEN")),
		Timeout: timeout,
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		FilePath: firstNonEmpty(strings.TrimSpace(os.Getenv("SUGGESTION_STORE_PATH")), "tmp/suggestions.json"),
		DSN:      strings.TrimSpace(os.Getenv("SUGGESTION_STORE_PG_DSN")),
	}
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "suggestify-revisions"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func loadCorrectionConfig() CorrectionConfig {
	enabled := true
	if raw := strings.TrimSpace(os.Getenv("SELF_CORRECTION_ENABLED")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			enabled = v
		}
	}
	maxIters := 3
	if raw := strings.TrimSpace(os.Getenv("SELF_CORRECTION_MAX_ITERATIONS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			maxIters = n
		}
	}
	threshold := 0.80
	if raw := strings.TrimSpace(os.Getenv("SELF_CORRECTION_THRESHOLD")); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 && f <= 1 {
			threshold = f
		}
	}
	return CorrectionConfig{Enabled: enabled, MaxIterations: maxIters, Threshold: threshold}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
