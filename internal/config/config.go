package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	HTTPAddr                   string
	TranscriptionEnabled       bool
	DefaultProvider            string
	OfflineEnabled             bool
	OfflineModelPath           string
	CloudEnabled               bool
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	DatabaseDriver             string
	DatabaseURL                string
	RedisURL                   string
	RequireAuthorization       bool
	JWTSecret                  string
	TokenTTL                   time.Duration
	AdminAPIKey                string
	KafkaBrokers               []string
	KafkaTopicPartial          string
	KafkaTopicFinal            string
	DiscordToken               string
	DiscordMirrorChannelID     string
	TranscriptWebhookURL       string
	PersistPartials            bool
	SessionStaleAfter          time.Duration
	SessionStopGrace           time.Duration
	AudioQueueSize             int
}

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.DefaultProvider {
	case "offline":
		if !c.OfflineEnabled {
			return fmt.Errorf("DEFAULT_PROVIDER=offline requires OFFLINE_ENABLED=true")
		}
	case "cloud":
		if !c.CloudEnabled {
			return fmt.Errorf("DEFAULT_PROVIDER=cloud requires CLOUD_ENABLED=true")
		}
	default:
		return fmt.Errorf("DEFAULT_PROVIDER must be offline or cloud, got %q", c.DefaultProvider)
	}
	if c.OfflineEnabled && c.OfflineModelPath == "" {
		return fmt.Errorf("OFFLINE_MODEL_PATH is required when OFFLINE_ENABLED=true")
	}
	if c.CloudEnabled {
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when CLOUD_ENABLED=true")
		}
		if c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when CLOUD_ENABLED=true")
		}
	}
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.RequireAuthorization && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when REQUIRE_AUTHORIZATION=true")
	}
	if c.DiscordMirrorChannelID != "" && c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required when DISCORD_MIRROR_CHANNEL_ID is set")
	}
	if c.SessionStaleAfter <= 0 {
		return fmt.Errorf("SESSION_STALE_AFTER must be positive, got %s", c.SessionStaleAfter)
	}
	if c.SessionStopGrace <= 0 {
		return fmt.Errorf("SESSION_STOP_GRACE must be positive, got %s", c.SessionStopGrace)
	}
	if c.JWTSecret != "" && c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.AudioQueueSize <= 0 {
		return fmt.Errorf("AUDIO_QUEUE_SIZE must be positive, got %d", c.AudioQueueSize)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "DEFAULT_PROVIDER", value: c.DefaultProvider},
		{name: "DATABASE_URL", value: c.DatabaseURL},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) DiscordMirrorEnabled() bool {
	return c.DiscordMirrorChannelID != ""
}
