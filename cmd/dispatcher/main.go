package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/adapters/dispatcher"
	"newsletter-engine/internal/adapters/repo"
	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/infra/db"
	applog "newsletter-engine/internal/infra/log"
	"newsletter-engine/internal/infra/metrics"
	"newsletter-engine/internal/infra/queue"
	"newsletter-engine/internal/usecase/dispatch"
)

type storage interface {
	domain.MessageRepo
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	store, closeStore := openStorage(ctx, cfg, logger)
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	dispatchQueue := openQueue(cfg, redisClient, logger)

	svc := dispatch.NewService(store, dispatchQueue, pickDispatcher(cfg, logger),
		cfg.Dispatch.RatePerSec, cfg.Dispatch.MaxAttempts,
		logger.With().Str("component", "dispatch").Logger())

	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Run(ctx)
		}()
	}
	logger.Info().Int("workers", workers).Msg("dispatcher: воркеры доставки запущены")

	// Обход возвращает в очередь сообщения, чьи задачи потерялись
	// между постановкой и подтверждением.
	c := cron.New()
	if _, err := c.AddFunc(cfg.Dispatch.SweepSpec, func() {
		queued, err := svc.DispatchPending(ctx, 0)
		if err != nil {
			logger.Error().Err(err).Msg("dispatcher: обход залежавшихся сообщений не удался")
			return
		}
		if queued > 0 {
			logger.Info().Int("queued", queued).Msg("dispatcher: обход вернул сообщения в доставку")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Dispatch.SweepSpec).Msg("dispatcher: неверное расписание обхода")
	}
	c.Start()

	<-ctx.Done()
	logger.Info().Msg("dispatcher: получен сигнал остановки")
	<-c.Stop().Done()
	wg.Wait()
	logger.Info().Msg("dispatcher: остановлен")
}

// pickDispatcher выбирает доставщика по настройкам: Telegram-бот, за ним
// вебхук, иначе журнальная заглушка.
func pickDispatcher(cfg config.AppConfig, logger zerolog.Logger) domain.Dispatcher {
	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось подключиться к Telegram Bot API")
		}
		return dispatcher.NewTelegram(bot, logger.With().Str("component", "telegram").Logger())
	}
	if cfg.Webhook.Endpoint != "" {
		return dispatcher.NewWebhook(cfg.Webhook.Endpoint, cfg.Webhook.Token, cfg.Webhook.Timeout,
			logger.With().Str("component", "webhook").Logger())
	}
	logger.Warn().Msg("dispatcher: доставщик не настроен, сообщения пишутся в журнал")
	return dispatcher.NewLog(logger.With().Str("component", "log").Logger())
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (storage, func()) {
	if cfg.Storage.Backend == "sqlite" {
		conn, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось открыть SQLite")
		}
		store, err := repo.NewSQLite(conn)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось применить схему SQLite")
		}
		return store, func() { _ = conn.Close() }
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	store := repo.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: миграция схемы не удалась")
	}
	return store, pool.Close
}

func openQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.DispatchQueue {
	if cfg.Queues.Backend == "rabbitmq" {
		q, err := queue.NewRabbitDispatchQueue(cfg.RabbitURL, cfg.Queues.Dispatch)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("dispatcher: не указан адрес Redis (REDIS_ADDR)")
	}
	return queue.NewRedisDispatchQueue(redisClient, cfg.Queues.Dispatch)
}
