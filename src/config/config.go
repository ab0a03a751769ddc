package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/promptfm/radiocore/src/data"
	"gorm.io/gorm"
)

type Config struct {
	Port     string
	MySQLDSN string
	RedisURL string

	JWTSecret string

	// Discord ingestion
	DiscordToken   string
	DiscordGuildID string

	// Moderation providers
	ModerationAPIURL  string
	ModerationAPIKey  string
	ClassifierAPIURL  string
	ClassifierAPIKey  string
	ClassifierModel   string
	ModerationTimeout time.Duration

	// Generation provider
	GenerationAPIURL string
	GenerationAPIKey string

	// Broadcast controller
	BroadcastAPIURL string

	// Scheduling
	DispatchInterval time.Duration
	DwellTimeout     time.Duration
	RetryLimit       int
	RetryBackoff     time.Duration
}

// Load reads configuration from DB-backed settings with environment
// fallbacks, the same order the rest of the platform uses.
func Load(db *gorm.DB) Config {
	if err := data.LoadSettings(db); err != nil {
		log.Printf("config: failed to load settings: %v", err)
	}
	return Config{
		Port:              getenv("PORT", "8090"),
		MySQLDSN:          getenv("MYSQL_DSN", "radio:radio@tcp(127.0.0.1:3306)/radiocore"),
		RedisURL:          getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		JWTSecret:         setting("jwt_secret", "JWT_SECRET", ""),
		DiscordToken:      setting("discord_token", "DISCORD_TOKEN", ""),
		DiscordGuildID:    setting("discord_guild_id", "DISCORD_GUILD_ID", ""),
		ModerationAPIURL:  setting("moderation_api_url", "MODERATION_API_URL", "https://api.openai.com/v1/moderations"),
		ModerationAPIKey:  setting("moderation_api_key", "MODERATION_API_KEY", ""),
		ClassifierAPIURL:  setting("classifier_api_url", "CLASSIFIER_API_URL", "https://api.openai.com/v1/chat/completions"),
		ClassifierAPIKey:  setting("classifier_api_key", "CLASSIFIER_API_KEY", ""),
		ClassifierModel:   setting("classifier_model", "CLASSIFIER_MODEL", "gpt-4o-mini"),
		ModerationTimeout: durationSetting("moderation_timeout", "MODERATION_TIMEOUT", 10*time.Second),
		GenerationAPIURL:  setting("generation_api_url", "GENERATION_API_URL", ""),
		GenerationAPIKey:  setting("generation_api_key", "GENERATION_API_KEY", ""),
		BroadcastAPIURL:   setting("broadcast_api_url", "BROADCAST_API_URL", "http://127.0.0.1:8100"),
		DispatchInterval:  durationSetting("dispatch_interval", "DISPATCH_INTERVAL", 5*time.Second),
		DwellTimeout:      durationSetting("dwell_timeout", "DWELL_TIMEOUT", 5*time.Minute),
		RetryLimit:        intSetting("retry_limit", "RETRY_LIMIT", 3),
		RetryBackoff:      durationSetting("retry_backoff", "RETRY_BACKOFF", 30*time.Second),
	}
}

// setting prefers the DB settings table, then the environment, then def.
func setting(name, envKey, def string) string {
	if v := data.GetSetting(name); v != "" {
		return v
	}
	return getenv(envKey, def)
}

func durationSetting(name, envKey string, def time.Duration) time.Duration {
	if v := setting(name, envKey, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func intSetting(name, envKey string, def int) int {
	if v := setting(name, envKey, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
