package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.FeedDriver)
	assert.Equal(t, 10*time.Second, cfg.Reconcile.MatchWindow)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.TombstoneTTL)
	assert.Equal(t, time.Duration(0), cfg.Reconcile.FailedTTL)
	assert.Equal(t, 50, cfg.Reconcile.ListLimit)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("FEED_DRIVER", "nats")
	t.Setenv("MATCH_WINDOW", "3s")
	t.Setenv("LIST_LIMIT", "20")

	cfg, err := LoadConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "nats", cfg.FeedDriver)
	assert.Equal(t, 3*time.Second, cfg.Reconcile.MatchWindow)
	assert.Equal(t, 20, cfg.Reconcile.ListLimit)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("TOMBSTONE_TTL", "forever")
	_, err := LoadConfig()
	assert.NotEqual(t, nil, err)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("FEED_DRIVER", "kafka")
	_, err := LoadConfig()
	assert.NotEqual(t, nil, err)
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.NotEqual(t, nil, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadConfig()
	assert.Equal(t, nil, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}
