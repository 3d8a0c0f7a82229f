package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("SOURCE_URL", "http://feed.local/maize.csv")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500, cfg.Training.Trees)
	assert.Equal(t, 0.05, cfg.Training.LearningRate)
	assert.Equal(t, 6, cfg.Training.MaxDepth)
	assert.Equal(t, int64(42), cfg.Training.Seed)
	assert.Equal(t, 6, cfg.Features.WindowMonths)
	assert.Equal(t, 4, cfg.Features.LagDepth)
	assert.Equal(t, 3, cfg.Source.RetryAttempts)
	assert.False(t, cfg.Database.Enabled)
	assert.True(t, cfg.API.Enabled)

	w, err := cfg.WeeklySchedule()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, w.Day)
	assert.Equal(t, 8, w.Hour)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SOURCE_URL", "http://feed.local/maize.csv")
	t.Setenv("TRAINING_TREES", "50")
	t.Setenv("SOURCE_TIMEOUT", "2s")
	t.Setenv("KAFKA_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("WEBHOOK_URLS", "http://a.local/hook")
	t.Setenv("SCHEDULE_TZ", "UTC")
	t.Setenv("API_PORT", "not-a-number")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50, cfg.Training.Trees)
	assert.Equal(t, 2*time.Second, cfg.Source.Timeout)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"http://a.local/hook"}, cfg.Webhooks.URLs)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing source", map[string]string{"SOURCE_URL": ""}, "SOURCE_URL"},
		{"bad schedule", map[string]string{"SCHEDULE_WEEKLY": "someday"}, "unknown weekday"},
		{"bad zone", map[string]string{"SCHEDULE_TZ": "Mars/Olympus"}, "SCHEDULE_TZ"},
		{"no trees", map[string]string{"TRAINING_TREES": "0"}, "trees"},
		{"single generation", map[string]string{"ARTIFACTS_GENERATIONS": "1"}, "ARTIFACTS_GENERATIONS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SOURCE_URL", "http://feed.local/maize.csv")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := LoadFromEnv().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
