package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"jobpool/internal/shared"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
	Store struct {
		Driver        string `validate:"required,oneof=memory sqlite postgres redis"`
		SQLitePath    string `validate:"required_if=Driver sqlite"`
		PostgresDSN   string `validate:"required_if=Driver postgres"`
		RedisAddr     string `validate:"required_if=Driver redis"`
		RedisPassword string
		RedisDB       int `validate:"gte=0,lte=15"`
	}
	Jobs struct {
		CachePrefix       string        `validate:"required"`
		PoolCoolDown      int           `validate:"gte=1"`
		AtomicGate        bool
		Schedule          string        `validate:"required"`
		CycleTimeout      time.Duration `validate:"gte=0"`
		HeartbeatInterval int           `validate:"gte=0"`
		WebhookURL        string        `validate:"omitempty,url"`
		WebhookInterval   int           `validate:"gte=1"`
	}
	HTTP struct {
		Addr  string
		Token string
	}
	Telegram struct {
		Token      string
		AllowedIDs []int64 `validate:"required_with=Token"`
	}
	Metrics bool
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []error
	)
	c.Env = getenv("ENV", "prod")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/jobpool.log")

	c.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", "sqlite"))
	c.Store.SQLitePath = getenv("SQLITE_PATH", "data/jobpool.db")
	c.Store.PostgresDSN = os.Getenv("POSTGRES_DSN")
	c.Store.RedisAddr = os.Getenv("REDIS_ADDR")
	c.Store.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.Store.RedisDB = getenvInt("REDIS_DB", 0, &errs)

	c.Jobs.CachePrefix = getenv("JOBS_CACHE_PREFIX", "jobs.")
	c.Jobs.PoolCoolDown = getenvInt("JOBS_POOL_COOLDOWN", 1, &errs)
	c.Jobs.AtomicGate = getenvBool("JOBS_ATOMIC_GATE", false, &errs)
	c.Jobs.Schedule = getenv("JOBS_SCHEDULE", "@every 1m")
	c.Jobs.CycleTimeout = getenvDuration("JOBS_CYCLE_TIMEOUT", 0, &errs)
	c.Jobs.HeartbeatInterval = getenvInt("JOBS_HEARTBEAT_INTERVAL", 1, &errs)
	c.Jobs.WebhookURL = os.Getenv("JOBS_WEBHOOK_URL")
	c.Jobs.WebhookInterval = getenvInt("JOBS_WEBHOOK_INTERVAL", 5, &errs)

	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.HTTP.Token = os.Getenv("HTTP_TOKEN")

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.AllowedIDs = parseIDs(os.Getenv("TELEGRAM_ALLOWED_IDS"), &errs)

	c.Metrics = getenvBool("METRICS", true, &errs)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", shared.ErrValidation, errors.Join(errs...))
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", k, v))
		return def
	}
	return n
}

func getenvDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", k, v))
		return def
	}
	return d
}

func getenvBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", k, v))
		return def
	}
	return b
}

func parseIDs(s string, errs *[]error) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("TELEGRAM_ALLOWED_IDS: %q is not a chat id", part))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
