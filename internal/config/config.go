// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Redis holds connection settings shared by the server and the historian.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Postgres holds the archive database settings.
type Postgres struct {
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	Database string `env:"PG_DATABASE" envDefault:"lampstand"`
}

// ConnString renders a postgres:// URL.
func (p Postgres) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Database,
	}
	return u.String()
}

// Judge selects and configures the arbitration backend.
type Judge struct {
	Backend       string        `env:"JUDGE_BACKEND" envDefault:"http"`
	URL           string        `env:"JUDGE_URL"`
	Timeout       time.Duration `env:"JUDGE_TIMEOUT" envDefault:"20s"`
	OpenAIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIModel   string        `env:"OPENAI_MODEL"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
}

const (
	JudgeBackendHTTP   = "http"
	JudgeBackendOpenAI = "openai"
)

// Telemetry controls OpenTelemetry export. Tracing stays off without an endpoint.
type Telemetry struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Logging configures the logrus logger.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Server is the game server's configuration.
type Server struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"localhost:*"`

	TokenExpire       string `env:"TOKEN_EXPIRE_TIME"`
	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"48h"`
	CommitRetries     int           `env:"COMMIT_MAX_RETRIES" envDefault:"5"`
	StartingInventory int           `env:"STARTING_INVENTORY" envDefault:"5"`
	HistorianQueue    string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"lampstand_moves"`

	// MemoryStore keeps sessions in process instead of Redis. Single node only.
	MemoryStore bool `env:"MEMORY_STORE" envDefault:"false"`

	Redis     Redis
	Judge     Judge
	Telemetry Telemetry
	Logging   Logging
}

// Historian is the archive worker's configuration.
type Historian struct {
	QueueName         string        `env:"HISTORIAN_QUEUE_NAME" envDefault:"lampstand_moves"`
	BatchSize         int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushMS           int           `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
	InactivityTimeout time.Duration `env:"SESSION_INACTIVITY_TIMEOUT" envDefault:"10m"`

	Redis     Redis
	Postgres  Postgres
	Telemetry Telemetry
	Logging   Logging
}

// FlushInterval returns the batch flush period.
func (h Historian) FlushInterval() time.Duration {
	return time.Duration(h.FlushMS) * time.Millisecond
}

// LoadServer reads and validates the server configuration from the environment.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that cannot be expressed as defaults.
func (s Server) Validate() error {
	switch strings.ToLower(s.Judge.Backend) {
	case JudgeBackendHTTP:
		if s.Judge.URL == "" {
			return fmt.Errorf("JUDGE_URL is required for the http judge")
		}
	case JudgeBackendOpenAI:
		if s.Judge.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai judge")
		}
	default:
		return fmt.Errorf("unknown JUDGE_BACKEND %q", s.Judge.Backend)
	}
	if s.Judge.Timeout <= 0 {
		return fmt.Errorf("JUDGE_TIMEOUT must be positive")
	}
	if s.CommitRetries < 1 {
		return fmt.Errorf("COMMIT_MAX_RETRIES must be at least 1")
	}
	if s.StartingInventory < 1 {
		return fmt.Errorf("STARTING_INVENTORY must be at least 1")
	}
	return nil
}

// LoadHistorian reads and validates the historian configuration.
func LoadHistorian() (Historian, error) {
	var cfg Historian
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BatchSize < 1 {
		return cfg, fmt.Errorf("HISTORIAN_BATCH_SIZE must be at least 1")
	}
	if cfg.FlushMS < 1 {
		return cfg, fmt.Errorf("HISTORIAN_FLUSH_MS must be at least 1")
	}
	return cfg, nil
}

// NewLogger builds a logrus logger from the logging settings. An unknown
// level falls back to info.
func NewLogger(l Logging) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
