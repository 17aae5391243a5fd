package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		actor  = "user-1"
		dsn    = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		feed   = "ws://localhost:8000/feed"
		secret = "c29tZV9zZWNyZXQ="
	)

	tcases := []struct {
		name    string
		actorId string
		dsn     string
		feedURL string
		secret  string
		wantErr string
	}{
		{
			name:    "valid",
			actorId: actor,
			dsn:     dsn,
			feedURL: feed,
			secret:  secret,
		},
		{
			name:    "missing actor id",
			dsn:     dsn,
			feedURL: feed,
			secret:  secret,
			wantErr: "actor id cannot be empty",
		},
		{
			name:    "missing dsn",
			actorId: actor,
			feedURL: feed,
			secret:  secret,
			wantErr: "database DSN cannot be empty",
		},
		{
			name:    "missing feed url",
			actorId: actor,
			dsn:     dsn,
			secret:  secret,
			wantErr: "feed URL cannot be empty",
		},
		{
			name:    "missing secret",
			actorId: actor,
			dsn:     dsn,
			feedURL: feed,
			wantErr: "signing secret cannot be empty",
		},
		{
			name:    "secret not base64",
			actorId: actor,
			dsn:     dsn,
			feedURL: feed,
			secret:  "not-base64!!!",
			wantErr: "decode signing secret",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.actorId, tc.dsn, tc.feedURL, tc.secret)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				assert.Nil(t, cfg)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.actorId, cfg.ActorId)
			assert.Equal(t, tc.dsn, cfg.DatabaseDSN)
			assert.Equal(t, tc.feedURL, cfg.FeedURL)
			assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
		})
	}
}

func TestNewConfigOptions(t *testing.T) {
	cfg, err := NewConfig("user-1", "dsn", "ws://localhost:8000/feed", "c29tZV9zZWNyZXQ=",
		WithBlobStorage("localhost:9000", "minio", "minio123", "attachments", false),
		WithDebugServer(":8081", []string{"http://localhost:3000"}),
	)
	assert.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.BlobEndpoint)
	assert.Equal(t, "attachments", cfg.BlobBucket)
	assert.Equal(t, ":8081", cfg.DebugAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}
