package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces the service's environment variables,
// e.g. KAA_SERVER_ADDR, KAA_DATABASE_DSN.
const envPrefix = "KAA"

type Config struct {
	ServerAddr     string   `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	DatabaseDSN    string   `envconfig:"DATABASE_DSN"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"`
	SigningSecret  string   `envconfig:"SIGNING_SECRET"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	Debug          bool     `envconfig:"DEBUG"`

	// SigningKey is the decoded SigningSecret, populated by NewConfig.
	SigningKey []byte `ignored:"true"`
}

// FromEnv reads defaults and overrides from the environment. Flag values
// layered on top of the result win.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	return cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the assembled settings and decodes the signing
// secret. RedisAddr may be empty, in which case presence state stays in
// process memory.
func NewConfig(serverAddr, databaseDSN, redisAddr, base64Secret string, allowedOrigins []string, debug bool) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		RedisAddr:      redisAddr,
		SigningSecret:  base64Secret,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Debug:          debug,
	}, nil
}
