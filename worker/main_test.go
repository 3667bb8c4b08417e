package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/imalyk/go-mood-tagger/pkg/queue"
)

func parseArgs(t *testing.T, args ...string) config {
	t.Helper()
	var cfg config
	app := newApp(func(c *cli.Context) error {
		cfg = loadConfig(c)
		return nil
	})
	require.NoError(t, app.Run(append([]string{"mood-worker"}, args...)))
	return cfg
}

func TestLoadConfigLogLevel(t *testing.T) {
	tests := []struct {
		arg  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			assert.Equal(t, tt.want, parseArgs(t, "--log-level", tt.arg).LogLevel)
		})
	}
}

func TestLoadConfigQueueBackend(t *testing.T) {
	cfg := parseArgs(t, "--queue-backend", "kafka", "--kafka-brokers", "k1:9092")
	assert.Equal(t, queue.Backend("kafka"), cfg.Queue.Backend)
	assert.Equal(t, []string{"k1:9092"}, cfg.Queue.KafkaBrokers)
	assert.Equal(t, "mood-analysis-queue", cfg.QueueName)
}
