package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/go-order-saga/pkg/utils"
)

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	Logger       Logger       `yaml:"logger"`
	HTTP         HTTP         `yaml:"http"`
	GRPC         GRPC         `yaml:"grpc"`
	Metrics      Metrics      `yaml:"metrics"`
	Postgres     PG           `yaml:"postgres"`
	Redis        Redis        `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Outbox       Outbox       `yaml:"outbox"`
	Services     Services     `yaml:"services"`
	Clients      Clients      `yaml:"clients"`
	Compensation Compensation `yaml:"compensation"`
	Reconciler   Reconciler   `yaml:"reconciler"`
	Idempotency  Idempotency  `yaml:"idempotency"`
	Limiter      Limiter      `yaml:"limiter"`
	JWT          JWT          `yaml:"jwt"`
	SMTP         SMTP         `yaml:"smtp"`
}

type Logger struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type GRPC struct {
	Port    string        `yaml:"port" env:"GRPC_PORT" env-default:":50051"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
}

type Redis struct {
	Addr string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	TTL  time.Duration `yaml:"ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	Topics  []string `yaml:"topics" env-default:"order_events"`
}

type Outbox struct {
	Interval  time.Duration `yaml:"interval" env-default:"500ms"`
	BatchSize int           `yaml:"batch_size" env-default:"50"`
}

type Services struct {
	AuthRPC    string `yaml:"auth_rpc" env:"AUTH_RPC_URL" env-default:"localhost:50051"`
	ProductRPC string `yaml:"product_rpc" env:"PRODUCT_RPC_URL" env-default:"localhost:50052"`
	OrderRPC   string `yaml:"order_rpc" env:"ORDER_RPC_URL" env-default:"localhost:50053"`
}

// Client holds the call policy for one remote dependency.
type Client struct {
	Timeout        time.Duration `yaml:"timeout" env-default:"1s"`
	MaxRetries     uint64        `yaml:"max_retries" env-default:"2"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env-default:"100ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env-default:"1s"`
}

type Clients struct {
	Auth    Client `yaml:"auth"`
	Product Client `yaml:"product"`
}

type Compensation struct {
	MaxAttempts    uint64        `yaml:"max_attempts" env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env-default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env-default:"5s"`
	Timeout        time.Duration `yaml:"timeout" env-default:"30s"`
}

type Reconciler struct {
	Interval    time.Duration `yaml:"interval" env-default:"5s"`
	BatchSize   int           `yaml:"batch_size" env-default:"20"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"20"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env-default:"10m"`
}

type Idempotency struct {
	StaleAfter time.Duration `yaml:"stale_after" env-default:"2m"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type JWT struct {
	AccessSecret string        `yaml:"access_secret" env:"ACCESS_SECRET"`
	AccessTTL    time.Duration `yaml:"access_ttl" env-default:"24h"`
}

type SMTP struct {
	Host          string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port          string `yaml:"port" env:"SMTP_PORT" env-default:"1025"`
	User          string `yaml:"user" env:"SMTP_USER"`
	Password      string `yaml:"password" env:"SMTP_PASSWORD"`
	From          string `yaml:"from" env:"SMTP_FROM" env-default:"orders@localhost"`
	OperatorEmail string `yaml:"operator_email" env:"OPERATOR_EMAIL" env-default:"oncall@localhost"`
}

// Load reads the YAML file at path and overlays environment variables.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	return cfg
}

func (c *Config) LoggerConfig(service string) LoggerConfig {
	return LoggerConfig{Level: c.Logger.Level, Env: c.Env, Service: service}
}
