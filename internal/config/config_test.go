package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_AUTH_SECRET", "from-env")
	path := writeConfig(t, `
server:
  port: 9090
auth:
  secret: ${TEST_AUTH_SECRET}
store:
  driver: Redis
redis:
  addr: redis:6379
scanner:
  enabled: true
  schedule: "0 * * * *"
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "0 * * * *", cfg.Scanner.Schedule)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)

	// defaults
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "economy-scores", cfg.Kafka.ScoreTopic)
	assert.Equal(t, uint64(5), cfg.Settlement.MaxRetries)
	assert.Equal(t, "economy:", cfg.Redis.KeyPrefix)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
auth:
  secret: file-secret
settlement:
  max_retries: 2
`)
	t.Setenv("ECONOMY_SERVER_PORT", "7070")
	t.Setenv("ECONOMY_STORE_DRIVER", "postgres")
	t.Setenv("ECONOMY_SETTLEMENT_BASE_DELAY", "50ms")
	t.Setenv("ECONOMY_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Settlement.BaseDelay)
	assert.Equal(t, uint64(2), cfg.Settlement.MaxRetries)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "file-secret", cfg.Auth.Secret)

	policy := cfg.Settlement.RetryPolicy()
	assert.Equal(t, uint64(2), policy.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, policy.BaseDelay)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("ECONOMY_AUTH_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "@hourly", cfg.Scanner.Schedule)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret is required")

	cfg.Auth.Secret = "x"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "mongo"
	cfg.Settlement.BaseDelay = 2 * time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mongo"`)
	assert.Contains(t, err.Error(), "base_delay exceeds")
}

func TestConnectionString(t *testing.T) {
	c := PostgresConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "economy"}
	assert.Equal(t, "postgres://u:p@db:5432/economy?sslmode=disable", c.ConnectionString())
}
