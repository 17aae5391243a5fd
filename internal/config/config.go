package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	// ActorId is the identity the engine synchronizes on behalf of.
	ActorId     string
	DatabaseDSN string
	// FeedURL is the websocket change-feed endpoint.
	FeedURL string
	// SigningKey signs the connect token presented to the feed.
	SigningKey []byte

	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool

	// DebugAddr serves the stats endpoint. Empty disables it.
	DebugAddr      string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(actorId, databaseDSN, feedURL, base64Secret string, opts ...Option) (*Config, error) {
	if actorId == "" {
		return nil, fmt.Errorf("actor id cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if feedURL == "" {
		return nil, fmt.Errorf("feed URL cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ActorId:     actorId,
		DatabaseDSN: databaseDSN,
		FeedURL:     feedURL,
		SigningKey:  signingKey,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg, nil
}

type Option func(*Config)

func WithBlobStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool) Option {
	return func(c *Config) {
		c.BlobEndpoint = endpoint
		c.BlobAccessKey = accessKey
		c.BlobSecretKey = secretKey
		c.BlobBucket = bucket
		c.BlobUseSSL = useSSL
	}
}

func WithDebugServer(addr string, allowedOrigins []string) Option {
	return func(c *Config) {
		c.DebugAddr = addr
		c.AllowedOrigins = allowedOrigins
	}
}
