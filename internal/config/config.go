package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"collabwrite"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	ServerPort string `env:"SERVER_PORT" envDefault:"5000"`
	ServerHost string `env:"SERVER_HOST" envDefault:"localhost"`
	ClientURL  string `env:"CLIENT_URL" envDefault:"http://localhost:3000"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"168h"`

	// Rate limits per client IP; 0 requests disables a limit
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	APIRateLimit    int           `env:"API_RATE_LIMIT" envDefault:"100"`
	AuthRateLimit   int           `env:"AUTH_RATE_LIMIT" envDefault:"25"`

	// Collaboration
	OwnerCascadeDelay     time.Duration `env:"OWNER_CASCADE_DELAY" envDefault:"1s"`
	PresenceSweepInterval time.Duration `env:"PRESENCE_SWEEP_INTERVAL" envDefault:"30s"`
	OwnerStaleTimeout     time.Duration `env:"OWNER_STALE_TIMEOUT" envDefault:"90s"`
	ClientSendBuffer      int           `env:"CLIENT_SEND_BUFFER" envDefault:"256"`

	// Observability
	LogLevel         string  `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment   bool    `env:"LOG_DEVELOPMENT" envDefault:"false"`
	JaegerEndpoint   string  `env:"JAEGER_ENDPOINT" envDefault:"http://localhost:14268/api/traces"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"1"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that have no usable default
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ClientSendBuffer <= 0 {
		return fmt.Errorf("CLIENT_SEND_BUFFER must be positive, got %d", c.ClientSendBuffer)
	}
	if c.PresenceSweepInterval <= 0 {
		return fmt.Errorf("PRESENCE_SWEEP_INTERVAL must be positive, got %s", c.PresenceSweepInterval)
	}
	if c.APIRateLimit < 0 || c.AuthRateLimit < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %g", c.TraceSampleRatio)
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}
