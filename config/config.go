// Package config loads server settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"./benefit-wallet.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"ENV" default:"dev"`

	// Empty disables the plan cache.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	PlanCacheTTL  time.Duration `envconfig:"PLAN_CACHE_TTL" default:"10m"`

	// Empty keeps events in-process.
	RabbitURL       string `envconfig:"RABBIT_URL"`
	BookingExchange string `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	PaymentExchange string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	PaymentQueue    string `envconfig:"PAYMENT_QUEUE" default:"wallet.payment.q"`
	PaymentDLX      string `envconfig:"PAYMENT_DLX" default:"wallet.payment.dlx"`
	PaymentDLQ      string `envconfig:"PAYMENT_DLQ" default:"wallet.payment.dlq"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	CancellationCutoff  time.Duration `envconfig:"CANCELLATION_CUTOFF" default:"24h"`
	NoShowSweepInterval time.Duration `envconfig:"NOSHOW_SWEEP_INTERVAL" default:"0"`
	NoShowGrace         time.Duration `envconfig:"NOSHOW_GRACE" default:"2h"`
}

// Load reads envFile (if it exists) into the environment, then processes
// the environment. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}

func (c Config) RedisAddrs() []string {
	if c.RedisAddr == "" {
		return nil
	}
	return strings.Split(c.RedisAddr, ",")
}
