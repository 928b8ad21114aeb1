package config

import (
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	var c Config
	require.NoError(t, defaults.Set(&c))
	c.Environment = "test"
	c.Scoring.Weights = map[string]float64{"structure": 1}
	c.Kafka.Brokers = []string{"localhost:9092"}
	return &c
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func TestValidateRequiresJournalBackendTarget(t *testing.T) {
	c := validConfig(t)
	c.Kafka.Brokers = nil
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")

	c = validConfig(t)
	c.Journal.Backend = "clickhouse"
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse.host")

	c.ClickHouse.Host = "localhost"
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownJournalBackend(t *testing.T) {
	c := validConfig(t)
	c.Journal.Backend = "parquet"
	assert.Error(t, c.Validate())
}

func TestValidateRequiresBybitCredentials(t *testing.T) {
	c := validConfig(t)
	c.Exchange.Mode = "bybit"
	assert.Error(t, c.Validate())

	c.Exchange.APIKey = "k"
	c.Exchange.APISecret = "s"
	assert.NoError(t, c.Validate())
}
