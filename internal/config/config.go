package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const defaultSummaryRefresh = 5 * time.Second

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string
	SummaryRefresh time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates and assembles the server configuration. RedisURL is
// optional; when empty the server falls back to the in-process event bus.
func NewConfig(serverAddr, databaseDSN, redisURL, base64Secret string, allowedOrigins []string, summaryRefresh time.Duration) (*Config, error) {
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

	if summaryRefresh <= 0 {
		summaryRefresh = defaultSummaryRefresh
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		RedisURL:       redisURL,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		SummaryRefresh: summaryRefresh,
	}, nil
}
