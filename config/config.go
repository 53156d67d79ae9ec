package config

import (
	"time"

	"github.com/anchel/voucher-seckill/lib/utils"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"warn"`
	GrpcPort    string `envconfig:"GRPC_PORT" default:"50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Redis   Redis
	Mysql   Mysql
	Mongo   Mongo
	Seckill Seckill
	Cache   Cache
}

type Redis struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type Mysql struct {
	Host     string `envconfig:"MYSQL_HOST" default:"localhost:3306"`
	User     string `envconfig:"MYSQL_USER" default:"root"`
	Password string `envconfig:"MYSQL_PASSWORD"`
	DB       string `envconfig:"MYSQL_DB" default:"seckill"`
}

type Mongo struct {
	URI string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	DB  string `envconfig:"MONGO_DB" default:"seckill"`
}

// Seckill tunes the admission queue and the persistence workers.
type Seckill struct {
	QueueSize      int           `envconfig:"SECKILL_QUEUE_SIZE" default:"1024"`
	Workers        int           `envconfig:"SECKILL_WORKERS" default:"4"`
	EnqueueTimeout time.Duration `envconfig:"SECKILL_ENQUEUE_TIMEOUT" default:"50ms"`
	// LockTTL must outlive the durable write critical section.
	LockTTL     time.Duration `envconfig:"SECKILL_LOCK_TTL" default:"10s"`
	MaxAttempts int           `envconfig:"SECKILL_MAX_ATTEMPTS" default:"5"`
}

type Cache struct {
	NullTTL        time.Duration `envconfig:"CACHE_NULL_TTL" default:"2m"`
	ShopTTL        time.Duration `envconfig:"CACHE_SHOP_TTL" default:"30m"`
	RebuildWorkers int           `envconfig:"CACHE_REBUILD_WORKERS" default:"10"`
}

// Load reads .env (when present) into the process environment and then
// decodes the environment into a Config.
func Load() (*Config, error) {
	if utils.CheckEnvFile() {
		log.Debug("loading .env file")
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
		log.Info("load .env successful")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Seckill.QueueSize <= 0 {
		return errors.Newf("SECKILL_QUEUE_SIZE must be positive, got %d", c.Seckill.QueueSize)
	}
	if c.Seckill.Workers <= 0 {
		return errors.Newf("SECKILL_WORKERS must be positive, got %d", c.Seckill.Workers)
	}
	if c.Seckill.MaxAttempts <= 0 {
		return errors.Newf("SECKILL_MAX_ATTEMPTS must be positive, got %d", c.Seckill.MaxAttempts)
	}
	if c.Seckill.LockTTL < time.Second {
		return errors.Newf("SECKILL_LOCK_TTL must be at least 1s, got %s", c.Seckill.LockTTL)
	}
	return nil
}
