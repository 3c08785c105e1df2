package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_URI", "postgres://localhost/crosspost")
	t.Setenv("REDIS_URI", "localhost:6379")
	t.Setenv("SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("OPS_TOKEN", "ops-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "asynq", cfg.Queue.Backend)
	assert.Equal(t, 1000, cfg.Scheduler.BatchSize)
	assert.Equal(t, time.Minute, cfg.Scheduler.PostScanInterval)
	assert.Equal(t, 24*time.Hour, cfg.Refresh.SafetyWindow)
	assert.Equal(t, 10, cfg.Refresh.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Refresh.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Media.PollInterval)
	assert.Equal(t, 60, cfg.Media.PollAttempts)
	assert.Equal(t, 30*time.Second, cfg.Media.StorageHeaderTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("R2_BUCKET_NAME", "media")
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REFRESH_MAX_ATTEMPTS", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.R2.BucketName)
	assert.Equal(t, 3, cfg.Refresh.MaxAttempts)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
}

func TestValidate(t *testing.T) {
	valid := Config{
		PostgresURI: "postgres://localhost/crosspost",
		RedisURI:    "localhost:6379",
		SecretKey:   "0123456789abcdef0123456789abcdef",
		OpsToken:    "ops-secret",
		Queue:       Queue{Backend: "asynq"},
		Scheduler:   Scheduler{BatchSize: 1000},
	}
	assert.NoError(t, valid.Validate())

	shortKey := valid
	shortKey.SecretKey = "short"
	assert.EqualError(t, shortKey.Validate(), "SECRET_KEY must be 32 bytes")

	kafka := valid
	kafka.Queue.Backend = "kafka"
	assert.EqualError(t, kafka.Validate(), "KAFKA_BROKERS is required for the kafka backend")

	noToken := valid
	noToken.OpsToken = ""
	assert.EqualError(t, noToken.Validate(), "OPS_TOKEN is required")

	noDB := valid
	noDB.PostgresURI = ""
	assert.EqualError(t, noDB.Validate(), "POSTGRES_URI is required")
}
