package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	SQLitePath              string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	InvoiceSearchTTLSeconds int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	EvidenceDir             string
	EvidenceMaxBytes        int64
	ReturnsDefaultPageSize  int
	ReturnsMaxPageSize      int
	DraftIdleMinutes        int
	UploadsPerMinute        int
	SeedDemoData            bool
	LogLevel                string
	LogFormat               string
}

// Load reads configuration from the environment, after loading a .env file
// when one exists. Auth secrets have no defaults.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("INVOICE_SEARCH_TTL_SECONDS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("EVIDENCE_DIR", "./data/evidence")
	v.SetDefault("EVIDENCE_MAX_BYTES", 5<<20)
	v.SetDefault("RETURNS_DEFAULT_PAGE_SIZE", 10)
	v.SetDefault("RETURNS_MAX_PAGE_SIZE", 100)
	v.SetDefault("DRAFT_IDLE_MINUTES", 120)
	v.SetDefault("EVIDENCE_UPLOADS_PER_MINUTE", 10)
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	cfg := Config{
		Port:                    v.GetString("PORT"),
		AllowedOrigin:           v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:             strings.TrimSpace(v.GetString("DATABASE_URL")),
		SQLitePath:              strings.TrimSpace(v.GetString("SQLITE_PATH")),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		InvoiceSearchTTLSeconds: positiveOr(v.GetInt("INVOICE_SEARCH_TTL_SECONDS"), 30),
		AuthSecret:              strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:   positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		ManagerPIN:              strings.TrimSpace(v.GetString("MANAGER_PIN")),
		EvidenceDir:             v.GetString("EVIDENCE_DIR"),
		EvidenceMaxBytes:        v.GetInt64("EVIDENCE_MAX_BYTES"),
		ReturnsDefaultPageSize:  positiveOr(v.GetInt("RETURNS_DEFAULT_PAGE_SIZE"), 10),
		ReturnsMaxPageSize:      positiveOr(v.GetInt("RETURNS_MAX_PAGE_SIZE"), 100),
		DraftIdleMinutes:        positiveOr(v.GetInt("DRAFT_IDLE_MINUTES"), 120),
		UploadsPerMinute:        positiveOr(v.GetInt("EVIDENCE_UPLOADS_PER_MINUTE"), 10),
		SeedDemoData:            v.GetBool("SEED_DEMO_DATA"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
	}
	if cfg.EvidenceMaxBytes < 1 {
		cfg.EvidenceMaxBytes = 5 << 20
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
