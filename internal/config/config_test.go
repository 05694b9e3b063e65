package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("JUDGE_URL", "http://judge.local/evaluate")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, JudgeBackendHTTP, cfg.Judge.Backend)
	assert.Equal(t, 20*time.Second, cfg.Judge.Timeout)
	assert.Equal(t, 5, cfg.CommitRetries)
	assert.Equal(t, 5, cfg.StartingInventory)
	assert.Equal(t, 48*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "lampstand_moves", cfg.HistorianQueue)
	assert.Equal(t, []string{"localhost:*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JUDGE_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JUDGE_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ALLOWED_ORIGINS", "example.com,*.example.com")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, JudgeBackendOpenAI, cfg.Judge.Backend)
	assert.Equal(t, 3*time.Second, cfg.Judge.Timeout)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, []string{"example.com", "*.example.com"}, cfg.AllowedOrigins)
}

func TestLoadServerValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"http judge without url":   {"JUDGE_BACKEND": "http"},
		"openai judge without key": {"JUDGE_BACKEND": "openai"},
		"unknown backend":          {"JUDGE_BACKEND": "oracle", "JUDGE_URL": "http://x"},
		"zero retries":             {"JUDGE_URL": "http://x", "COMMIT_MAX_RETRIES": "0"},
		"bad duration":             {"JUDGE_URL": "http://x", "JUDGE_TIMEOUT": "soon"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := LoadServer()
			assert.Error(t, err)
		})
	}
}

func TestLoadHistorian(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("POSTGRES_PASSWORD", "p@ss")
	t.Setenv("HISTORIAN_FLUSH_MS", "250")

	cfg, err := LoadHistorian()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval())
	assert.Equal(t, 10*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, "postgres://postgres:p%40ss@db:5432/lampstand", cfg.Postgres.ConnString())
}

func TestNewLogger(t *testing.T) {
	l := NewLogger(Logging{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = NewLogger(Logging{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
