package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	HTTPAddr                   string        `env:"HTTP_ADDR" envDefault:":8080"`
	TranscriptionEnabled       bool          `env:"TRANSCRIPTION_ENABLED" envDefault:"true"`
	DefaultProvider            string        `env:"DEFAULT_PROVIDER" envDefault:"offline"`
	OfflineEnabled             bool          `env:"OFFLINE_ENABLED" envDefault:"true"`
	OfflineModelPath           string        `env:"OFFLINE_MODEL_PATH"`
	CloudEnabled               bool          `env:"CLOUD_ENABLED" envDefault:"false"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	DatabaseDriver             string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL                string        `env:"DATABASE_URL,required"`
	RedisURL                   string        `env:"REDIS_URL"`
	RequireAuthorization       bool          `env:"REQUIRE_AUTHORIZATION" envDefault:"false"`
	JWTSecret                  string        `env:"JWT_SECRET"`
	TokenTTL                   time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
	AdminAPIKey                string        `env:"ADMIN_API_KEY"`
	KafkaBrokers               []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPartial          string        `env:"KAFKA_TOPIC_PARTIAL" envDefault:"workshop.transcript.partial"`
	KafkaTopicFinal            string        `env:"KAFKA_TOPIC_FINAL" envDefault:"workshop.transcript.final"`
	DiscordToken               string        `env:"DISCORD_TOKEN"`
	DiscordMirrorChannelID     string        `env:"DISCORD_MIRROR_CHANNEL_ID"`
	TranscriptWebhookURL       string        `env:"TRANSCRIPT_WEBHOOK_URL"`
	PersistPartials            bool          `env:"PERSIST_PARTIALS" envDefault:"false"`
	SessionStaleAfter          time.Duration `env:"SESSION_STALE_AFTER" envDefault:"30s"`
	SessionStopGrace           time.Duration `env:"SESSION_STOP_GRACE" envDefault:"1500ms"`
	AudioQueueSize             int           `env:"AUDIO_QUEUE_SIZE" envDefault:"64"`
}

func Load() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &config.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		TranscriptionEnabled:       raw.TranscriptionEnabled,
		DefaultProvider:            raw.DefaultProvider,
		OfflineEnabled:             raw.OfflineEnabled,
		OfflineModelPath:           raw.OfflineModelPath,
		CloudEnabled:               raw.CloudEnabled,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		DatabaseDriver:             raw.DatabaseDriver,
		DatabaseURL:                raw.DatabaseURL,
		RedisURL:                   raw.RedisURL,
		RequireAuthorization:       raw.RequireAuthorization,
		JWTSecret:                  raw.JWTSecret,
		TokenTTL:                   raw.TokenTTL,
		AdminAPIKey:                raw.AdminAPIKey,
		KafkaBrokers:               raw.KafkaBrokers,
		KafkaTopicPartial:          raw.KafkaTopicPartial,
		KafkaTopicFinal:            raw.KafkaTopicFinal,
		DiscordToken:               raw.DiscordToken,
		DiscordMirrorChannelID:     raw.DiscordMirrorChannelID,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		PersistPartials:            raw.PersistPartials,
		SessionStaleAfter:          raw.SessionStaleAfter,
		SessionStopGrace:           raw.SessionStopGrace,
		AudioQueueSize:             raw.AudioQueueSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
