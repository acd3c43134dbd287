package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов движка рассылок.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	// Storage выбирает бэкенд хранилища: postgres или sqlite.
	Storage struct {
		Backend    string `envconfig:"STORAGE_BACKEND" default:"postgres"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"newsletter.db"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend  string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Dispatch string `envconfig:"DISPATCH_QUEUE_KEY" default:"dispatch_jobs"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		SessionFile string `envconfig:"TG_SESSION_FILE" default:"mtproto.session"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"5"`
	} `envconfig:""`

	Webhook struct {
		Endpoint string        `envconfig:"WEBHOOK_ENDPOINT"`
		Token    string        `envconfig:"WEBHOOK_TOKEN"`
		Timeout  time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Dispatch struct {
		Workers     int    `envconfig:"DISPATCH_WORKERS" default:"4"`
		RatePerSec  int    `envconfig:"DISPATCH_RATE_PER_SEC" default:"25"`
		MaxAttempts int    `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5"`
		SweepSpec   string `envconfig:"DISPATCH_SWEEP_SPEC" default:"@every 10m"`
	} `envconfig:""`

	Scheduler struct {
		TickSpec string        `envconfig:"SCHEDULER_TICK_SPEC" default:"@every 1m"`
		LockTTL  time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"50s"`
	} `envconfig:""`

	Collectors struct {
		ConfigPath string `envconfig:"COLLECTORS_CONFIG" default:"collectors.yaml"`
	} `envconfig:""`

	Limits struct {
		MessageMaxItems int `envconfig:"MESSAGE_MAX_ITEMS" default:"20"`
	} `envconfig:""`

	AdminToken string `envconfig:"ADMIN_TOKEN"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
