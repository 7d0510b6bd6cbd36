package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the identity server.
// Tags use mapstructure for Viper unmarshalling and env binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// RedisAddr selects the Redis-backed session store. Empty falls
	// back to the in-process ttlcache store.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	JWTSecretKey       string `mapstructure:"JWT_SECRET_KEY"`
	SessionTokenTTLMin int    `mapstructure:"SESSION_TOKEN_TTL_MIN"`

	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// AuditRetentionDays bounds the Mongo activity log via a TTL index.
	// Zero keeps entries forever; negative routes audit entries to the
	// structured log instead of Mongo.
	AuditRetentionDays int `mapstructure:"AUDIT_RETENTION_DAYS"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/identity/")
	v.AddConfigPath("$HOME/.identity")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/identity_dev")
	v.SetDefault("MONGO_DB_NAME", "identity_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "identity-server")
	v.SetDefault("JWT_ISSUER", "identity")
	v.SetDefault("JWT_SECRET_KEY", "a_very_secret_jwt_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("SESSION_TOKEN_TTL_MIN", 60)
	v.SetDefault("BCRYPT_COST", 0) // 0 selects the bcrypt default
	v.SetDefault("AUDIT_RETENTION_DAYS", 90)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, we proceed with defaults and
		// env vars. Anything else is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
