package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/adapters/collector"
	"newsletter-engine/internal/adapters/composer"
	"newsletter-engine/internal/adapters/repo"
	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/cache"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/infra/db"
	applog "newsletter-engine/internal/infra/log"
	"newsletter-engine/internal/infra/metrics"
	"newsletter-engine/internal/infra/queue"
	"newsletter-engine/internal/usecase/assemble"
	"newsletter-engine/internal/usecase/schedule"
)

// storage объединяет репозитории, которые нужны планировщику.
type storage interface {
	domain.ChannelRepo
	domain.SubscriptionRepo
	domain.ItemRepo
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

	watcher := config.NewWatcher(cfg.Collectors.ConfigPath, logger.With().Str("component", "collectors_config").Logger())
	collectorsCfg, err := watcher.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("scheduler: конфиг коллекторов не прочитан, действуют настройки по умолчанию")
	}

	terms := collector.NewTerms(store, collectorOptions(collectorsCfg, "terms"), logger.With().Str("collector", "terms").Logger())
	collectors := map[string]domain.Collector{"terms": terms}

	var telegramCollector *collector.Telegram
	if cfg.Telegram.APIID != 0 && cfg.Telegram.APIHash != "" {
		telegramCollector = collector.NewTelegram(
			cfg.Telegram.APIID,
			cfg.Telegram.APIHash,
			cfg.Telegram.SessionFile,
			cfg.Telegram.GlobalRPS,
			collectorOptions(collectorsCfg, "telegram"),
			logger.With().Str("collector", "telegram").Logger(),
		)
		collectors["telegram"] = telegramCollector
	}

	updates := watcher.Subscribe()
	go func() {
		if err := watcher.Watch(ctx.Done()); err != nil {
			logger.Error().Err(err).Msg("scheduler: наблюдение за конфигом остановлено")
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case file := <-updates:
				terms.SetOptions(collectorOptions(file, "terms"))
				if telegramCollector != nil {
					telegramCollector.SetOptions(collectorOptions(file, "telegram"))
				}
			}
		}
	}()

	composers := map[string]domain.Composer{
		"plain":    composer.NewPlain("", cfg.Limits.MessageMaxItems),
		"html":     composer.NewHTML("", cfg.Limits.MessageMaxItems),
		"telegram": composer.NewTelegram("", cfg.Limits.MessageMaxItems),
	}

	assembler := assemble.NewService(store, store, store, dispatchQueue, collectors, composers, logger.With().Str("component", "assemble").Logger())

	var lock domain.Cache
	if redisClient != nil {
		lock = cache.NewRedis(redisClient)
	} else {
		logger.Warn().Msg("scheduler: Redis не настроен, тики не защищены замком от реплик")
	}
	scheduleSvc := schedule.NewService(store, assembler, lock, cfg.Scheduler.LockTTL, logger.With().Str("component", "schedule").Logger())

	loc := time.Local
	if cfg.TZ != "" {
		parsed, err := time.LoadLocation(cfg.TZ)
		if err != nil {
			logger.Warn().Err(err).Str("tz", cfg.TZ).Msg("scheduler: неизвестный часовой пояс, используем локальный")
		} else {
			loc = parsed
		}
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.Scheduler.TickSpec, func() {
		ticked, err := scheduleSvc.TickAll(ctx, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: тик не удался")
			return
		}
		if ticked > 0 {
			logger.Info().Int("ticked", ticked).Msg("scheduler: каналы собраны")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Scheduler.TickSpec).Msg("scheduler: некорректное расписание тика")
	}

	c.Start()
	logger.Info().Str("spec", cfg.Scheduler.TickSpec).Msg("scheduler: запущен")
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("scheduler: остановлен")
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (storage, func()) {
	if cfg.Storage.Backend == "sqlite" {
		conn, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось открыть SQLite")
		}
		store, err := repo.NewSQLite(conn)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось применить схему SQLite")
		}
		return store, func() { _ = conn.Close() }
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	store := repo.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: миграция схемы не удалась")
	}
	return store, pool.Close
}

func openQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.DispatchQueue {
	if cfg.Queues.Backend == "rabbitmq" {
		q, err := queue.NewRabbitDispatchQueue(cfg.RabbitURL, cfg.Queues.Dispatch)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	return queue.NewRedisDispatchQueue(redisClient, cfg.Queues.Dispatch)
}

func collectorOptions(file config.CollectorsFile, name string) collector.Options {
	opts := file.Collectors[name]
	return collector.Options{
		FieldTitle:    opts.FieldTitle,
		FilteredItems: opts.FilteredItems,
		Sources:       opts.Sources,
	}
}
