package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RedisURL    string `env:"REDIS_URL"`

	SMTPHost           string `env:"SMTP_HOST,required=true"`
	SMTPPort           int    `env:"SMTP_PORT,default=587"`
	SMTPUser           string `env:"SMTP_USER"`
	SMTPPassword       string `env:"SMTP_PASSWORD"`
	SMTPFrom           string `env:"SMTP_FROM,required=true"`
	SMTPTLS            bool   `env:"SMTP_TLS,default=false"`
	SMTPCommandTimeout int    `env:"SMTP_COMMAND_TIMEOUT_SEC,default=10"`

	BaseNotificationURL string `env:"BASE_NOTIFICATION_URL,default=http://localhost:8080"`

	DrainBatchSize     int `env:"DRAIN_BATCH_SIZE,default=25"`
	MaxAttemptsCap     int `env:"MAX_ATTEMPTS_CAP,default=10"`
	DrainIntervalSec   int `env:"DRAIN_INTERVAL_SEC,default=60"`
	JobPacingMs        int `env:"JOB_PACING_MS,default=500"`
	DeliveryTimeoutSec int `env:"DELIVERY_TIMEOUT_SEC,default=60"`
	RateLimitPerSec    int `env:"RATE_LIMIT_PER_SEC,default=10"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations go-env cannot express as tags. A bad
// SMTP endpoint or sender must stop the process before any job is touched.
func (c *Config) validate() error {
	if strings.TrimSpace(c.SMTPHost) == "" {
		return fmt.Errorf("SMTP_HOST must not be blank")
	}
	if strings.TrimSpace(c.SMTPFrom) == "" {
		return fmt.Errorf("SMTP_FROM must not be blank")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT %d is out of range", c.SMTPPort)
	}
	if (c.SMTPUser == "") != (c.SMTPPassword == "") {
		return fmt.Errorf("SMTP_USER and SMTP_PASSWORD must be set together")
	}
	if c.MaxAttemptsCap < 1 {
		return fmt.Errorf("MAX_ATTEMPTS_CAP must be at least 1")
	}
	return nil
}
