// Package config предоставялет структуры и функцию для парсинга и загрузки конфига.
// Значения читаются из YAML-файла по пути CONFIG_PATH, секреты могут приходить из
// переменных окружения и перекрывают значения файла.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Режимы получения обновлений Telegram.
const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// Виды табличного хранилища.
const (
	StorageSheets = "sheets"
	StorageMemory = "memory"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env:"ENV" env-default:"local"`
	Timezone        string `yaml:"timezone" env:"TZ_NAME" env-default:"Europe/Moscow"`
	Telegram        `yaml:"telegram"`
	Storage         `yaml:"storage"`
	Access          `yaml:"access"`
	Forecast        `yaml:"forecast"`
	HTTPServer      `yaml:"http_server"`
	RedisConnection `yaml:"redis_connection"`
	RabbitMQ        `yaml:"rabbitmq"`
	Scheduler       `yaml:"scheduler"`
}

// Telegram структура для настройки бота
type Telegram struct {
	Token         string        `yaml:"token" env:"TELEGRAM_TOKEN"`
	Mode          string        `yaml:"mode" env:"TELEGRAM_MODE" env-default:"webhook"`
	PublicURL     string        `yaml:"public_url" env:"PUBLIC_URL"`
	WebhookSecret string        `yaml:"webhook_secret" env:"TELEGRAM_WEBHOOK_SECRET"`
	HandleTimeout time.Duration `yaml:"handle_timeout" env-default:"30s"`
	PollTimeout   int           `yaml:"poll_timeout" env-default:"30"`
}

// Storage структура для настройки табличного хранилища
type Storage struct {
	Kind          string        `yaml:"kind" env:"STORAGE_KIND" env-default:"sheets"`
	SpreadsheetID string        `yaml:"spreadsheet_id" env:"GSHEET_ID"`
	SheetName     string        `yaml:"sheet_name" env:"SUBS_SHEET_NAME" env-default:"Subs"`
	Credentials   string        `yaml:"credentials" env:"GOOGLE_SA_JSON"`
	Timeout       time.Duration `yaml:"timeout" env-default:"10s"`
	RetryCooldown time.Duration `yaml:"retry_cooldown" env-default:"60s"`
}

// Access структура для настройки правил доступа
type Access struct {
	TrialDays   int    `yaml:"trial_days" env-default:"3"`
	BlockPolicy string `yaml:"block_policy" env-default:"status"`
}

// Forecast структура для настройки текстов прогноза
type Forecast struct {
	TextsPath string `yaml:"texts_path" env:"FORECAST_TEXTS_PATH"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":10000"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"30"`
	RateBurst   int           `yaml:"rate_burst" env-default:"60"`

	// SenderAddress — адрес /metrics процесса отправки уведомлений; пустой отключает сервер.
	SenderAddress string `yaml:"sender_address" env:"SENDER_HTTP_ADDRESS" env-default:":10001"`
}

// RedisConnection структура для настройки подключения к redis.
// Пустой адрес отключает дедупликацию обновлений.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	UpdateTTL    time.Duration `yaml:"update_ttl" env-default:"24h"`
}

// RabbitMQ структура для настройки очереди уведомлений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Scheduler структура для настройки ежедневного обхода пробных периодов
type Scheduler struct {
	Enabled  bool          `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	Interval time.Duration `yaml:"interval" env-default:"24h"`
}

// MustLoad функция для загрузки конфига, путь к файлу берется из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает и проверяет конфиг из файла path.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("telegram token is required"))
	}
	switch c.Mode {
	case ModeWebhook:
		if c.PublicURL == "" {
			errs = append(errs, errors.New("public_url is required in webhook mode"))
		}
	case ModePolling:
	default:
		errs = append(errs, fmt.Errorf("unknown telegram mode %q", c.Mode))
	}
	switch c.Kind {
	case StorageSheets:
		if c.SpreadsheetID == "" || c.Credentials == "" {
			errs = append(errs, errors.New("spreadsheet_id and credentials are required for sheets storage"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage kind %q", c.Kind))
	}
	if c.TrialDays < 0 {
		errs = append(errs, errors.New("trial_days must not be negative"))
	}
	switch strings.ToLower(c.BlockPolicy) {
	case "status", "plan":
	default:
		errs = append(errs, fmt.Errorf("unknown block_policy %q", c.BlockPolicy))
	}
	if c.Scheduler.Enabled && c.RabbitMQURL == "" {
		errs = append(errs, errors.New("rabbitmq url is required when scheduler is enabled"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location возвращает временную зону, в которой считается "сегодня".
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mask(s string) string {
	if s == "" {
		return "EMPTY"
	}
	return fmt.Sprintf("len=%d", len(s))
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"Timezone: %s\n"+
			"Telegram:\n"+
			"  Token: %s\n"+
			"  Mode: %s\n"+
			"  PublicURL: %s\n"+
			"Storage:\n"+
			"  Kind: %s\n"+
			"  SpreadsheetID: %s\n"+
			"  SheetName: %s\n"+
			"  Credentials: %s\n"+
			"  Timeout: %s\n"+
			"  RetryCooldown: %s\n"+
			"Access:\n"+
			"  TrialDays: %d\n"+
			"  BlockPolicy: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  SenderAddress: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"Scheduler:\n"+
			"  Enabled: %t\n"+
			"  Interval: %s\n",
		c.Env,
		c.Timezone,
		mask(c.Token),
		c.Mode,
		c.PublicURL,
		c.Kind,
		c.SpreadsheetID,
		c.SheetName,
		mask(c.Credentials),
		c.Storage.Timeout,
		c.RetryCooldown,
		c.TrialDays,
		c.BlockPolicy,
		c.AddressHTTP,
		c.SenderAddress,
		c.AddressRedis,
		mask(c.RabbitMQURL),
		c.Scheduler.Enabled,
		c.Interval,
	)
}
