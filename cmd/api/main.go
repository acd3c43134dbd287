package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"newsletter-engine/internal/adapters/collector"
	"newsletter-engine/internal/adapters/composer"
	"newsletter-engine/internal/adapters/dispatcher"
	"newsletter-engine/internal/adapters/repo"
	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/config"
	"newsletter-engine/internal/infra/db"
	httpinfra "newsletter-engine/internal/infra/http"
	applog "newsletter-engine/internal/infra/log"
	"newsletter-engine/internal/infra/metrics"
	"newsletter-engine/internal/infra/queue"
	"newsletter-engine/internal/usecase/assemble"
	"newsletter-engine/internal/usecase/channels"
	"newsletter-engine/internal/usecase/dispatch"
	"newsletter-engine/internal/usecase/subscribe"
)

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
		logger.Warn().Err(err).Msg("api: конфиг коллекторов не прочитан, действуют настройки по умолчанию")
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
			logger.Error().Err(err).Msg("api: наблюдение за конфигом остановлено")
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

	channelSvc := channels.NewService(store, collectors, composers, logger.With().Str("component", "channels").Logger())
	subscribeSvc := subscribe.NewService(store, store, collectors, logger.With().Str("component", "subscribe").Logger())
	assembleSvc := assemble.NewService(store, store, store, dispatchQueue, collectors, composers, logger.With().Str("component", "assemble").Logger())
	// API не доставляет сообщения сам: очередь читают воркеры cmd/dispatcher,
	// здесь сервис нужен ради статистики, обхода, очистки и повторов.
	dispatchSvc := dispatch.NewService(store, dispatchQueue, dispatcher.NewLog(logger.With().Str("component", "log").Logger()),
		cfg.Dispatch.RatePerSec, cfg.Dispatch.MaxAttempts,
		logger.With().Str("component", "dispatch").Logger())

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	r := srv.Router

	// Публичные ручки: форма подписки и жизненный цикл подписки по секрету.
	r.Group(func(public chi.Router) {
		public.Get("/api/v1/channels/{name}/subscribe-form", func(w http.ResponseWriter, r *http.Request) {
			form, err := subscribeSvc.BuildForm(r.Context(), chi.URLParam(r, "name"))
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, form)
		})

		public.Post("/api/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req subscribeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			sub, err := subscribeSvc.Subscribe(r.Context(), req.Channel, req.Address, req.Format, req.Selection)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, toSubscriptionResponse(sub))
		})

		public.Get("/api/v1/subscriptions/{secret}", func(w http.ResponseWriter, r *http.Request) {
			sub, err := subscribeSvc.Get(r.Context(), chi.URLParam(r, "secret"))
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, toSubscriptionResponse(sub))
		})

		public.Post("/api/v1/subscriptions/{secret}/confirm", func(w http.ResponseWriter, r *http.Request) {
			sub, err := subscribeSvc.Confirm(r.Context(), chi.URLParam(r, "secret"))
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, toSubscriptionResponse(sub))
		})

		public.Delete("/api/v1/subscriptions/{secret}", func(w http.ResponseWriter, r *http.Request) {
			if err := subscribeSvc.Cancel(r.Context(), chi.URLParam(r, "secret")); err != nil {
				writeDomainError(w, logger, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	// Административные ручки.
	r.Group(func(admin chi.Router) {
		if cfg.AdminToken != "" {
			admin.Use(httpinfra.BearerAuthMiddleware(cfg.AdminToken))
		} else {
			logger.Warn().Msg("api: ADMIN_TOKEN пуст, административные ручки открыты")
		}

		resolveChannel := func(w http.ResponseWriter, r *http.Request) (domain.Channel, bool) {
			ch, err := channelSvc.Get(r.Context(), chi.URLParam(r, "name"))
			if err != nil {
				writeDomainError(w, logger, err)
				return domain.Channel{}, false
			}
			return ch, true
		}

		admin.Post("/api/v1/channels", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req registerChannelRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			created, err := channelSvc.Register(r.Context(), domain.Channel{
				Name:          req.Name,
				Title:         req.Title,
				CollectorName: req.Collector,
				Formats:       req.Formats,
				SchedulerKind: domain.SchedulerKind(req.Scheduler),
				Active:        req.Active,
			})
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, toChannelResponse(created))
		})

		admin.Get("/api/v1/channels", func(w http.ResponseWriter, r *http.Request) {
			list, err := channelSvc.List(r.Context())
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			resp := make([]channelResponse, 0, len(list))
			for _, ch := range list {
				resp = append(resp, toChannelResponse(ch))
			}
			httpinfra.WriteJSON(w, resp)
		})

		admin.Get("/api/v1/channels/{name}", func(w http.ResponseWriter, r *http.Request) {
			ch, ok := resolveChannel(w, r)
			if !ok {
				return
			}
			httpinfra.WriteJSON(w, toChannelResponse(ch))
		})

		setActive := func(active bool) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				if err := channelSvc.SetActive(r.Context(), chi.URLParam(r, "name"), active); err != nil {
					writeDomainError(w, logger, err)
					return
				}
				httpinfra.WriteJSON(w, map[string]string{"status": "ok"})
			}
		}
		admin.Post("/api/v1/channels/{name}/activate", setActive(true))
		admin.Post("/api/v1/channels/{name}/deactivate", setActive(false))

		// Ручная сборка вне расписания: TriggeredLast не трогается.
		admin.Post("/api/v1/channels/{name}/assemble", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			report, err := assembleSvc.AssembleByName(r.Context(), name, domain.DispatchCauseManual)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, assembleResponse{
				Channel:    name,
				Rendered:   report.Rendered,
				Suppressed: report.Suppressed,
				Pending:    report.Pending,
			})
		})

		admin.Get("/api/v1/channels/{name}/queue", func(w http.ResponseWriter, r *http.Request) {
			ch, ok := resolveChannel(w, r)
			if !ok {
				return
			}
			stats, err := dispatchSvc.Stats(r.Context(), ch.ID)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, stats)
		})

		admin.Post("/api/v1/channels/{name}/queue/sweep", func(w http.ResponseWriter, r *http.Request) {
			ch, ok := resolveChannel(w, r)
			if !ok {
				return
			}
			queued, err := dispatchSvc.DispatchPending(r.Context(), ch.ID)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, map[string]int{"queued": queued})
		})

		admin.Delete("/api/v1/channels/{name}/queue", func(w http.ResponseWriter, r *http.Request) {
			ch, ok := resolveChannel(w, r)
			if !ok {
				return
			}
			removed, err := dispatchSvc.Flush(r.Context(), ch.ID)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, map[string]int64{"removed": removed})
		})

		admin.Post("/api/v1/messages/{id}/requeue", func(w http.ResponseWriter, r *http.Request) {
			if err := dispatchSvc.Requeue(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, map[string]string{"status": "ok"})
		})

		admin.Post("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var payload []itemPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			if len(payload) == 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, "пустой список элементов")
				return
			}
			items := make([]domain.Item, 0, len(payload))
			for _, p := range payload {
				if p.ID == "" || p.Title == "" {
					httpinfra.WriteError(w, http.StatusBadRequest, "у элемента должны быть id и title")
					return
				}
				published := p.PublishedAt
				if published.IsZero() {
					published = time.Now().UTC()
				}
				items = append(items, domain.Item{
					ID:          p.ID,
					Title:       p.Title,
					URL:         p.URL,
					Body:        p.Body,
					Terms:       p.Terms,
					PublishedAt: published,
				})
			}
			saved, err := store.SaveItems(r.Context(), items)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			httpinfra.WriteJSON(w, map[string]int{"saved": saved})
		})
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type registerChannelRequest struct {
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	Collector string   `json:"collector"`
	Formats   []string `json:"formats"`
	Scheduler string   `json:"scheduler"`
	Active    bool     `json:"active"`
}

type subscribeRequest struct {
	Channel   string   `json:"channel"`
	Address   string   `json:"address"`
	Format    string   `json:"format"`
	Selection []string `json:"selection"`
}

type itemPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Body        string    `json:"body"`
	Terms       []string  `json:"terms"`
	PublishedAt time.Time `json:"published_at"`
}

type channelResponse struct {
	Name          string     `json:"name"`
	Title         string     `json:"title"`
	Collector     string     `json:"collector,omitempty"`
	Formats       []string   `json:"formats"`
	Scheduler     string     `json:"scheduler,omitempty"`
	Active        bool       `json:"active"`
	TriggeredLast *time.Time `json:"triggered_last,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type subscriptionResponse struct {
	Secret    string    `json:"secret"`
	ChannelID int64     `json:"channel_id"`
	Address   string    `json:"address"`
	Format    string    `json:"format"`
	Pending   bool      `json:"pending"`
	Selection []string  `json:"selection,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type assembleResponse struct {
	Channel    string `json:"channel"`
	Rendered   int    `json:"rendered"`
	Suppressed int    `json:"suppressed"`
	Pending    int    `json:"pending"`
}

func toChannelResponse(ch domain.Channel) channelResponse {
	resp := channelResponse{
		Name:      ch.Name,
		Title:     ch.Title,
		Collector: ch.CollectorName,
		Formats:   ch.Formats,
		Scheduler: string(ch.SchedulerKind),
		Active:    ch.Active,
		CreatedAt: ch.CreatedAt,
	}
	if !ch.TriggeredLast.IsZero() {
		t := ch.TriggeredLast
		resp.TriggeredLast = &t
	}
	return resp
}

func toSubscriptionResponse(sub domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Secret:    sub.Secret,
		ChannelID: sub.ChannelID,
		Address:   sub.Address,
		Format:    sub.Format,
		Pending:   sub.Pending,
		Selection: sub.Selection,
		CreatedAt: sub.CreatedAt,
	}
}

func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("api: внутренняя ошибка")
		httpinfra.WriteError(w, status, "внутренняя ошибка")
		return
	}
	httpinfra.WriteError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrChannelNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrChannelExists),
		errors.Is(err, domain.ErrAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, channels.ErrNameInvalid),
		errors.Is(err, channels.ErrNoFormats),
		errors.Is(err, channels.ErrFormatUnregistered),
		errors.Is(err, channels.ErrCollectorUnregistered),
		errors.Is(err, channels.ErrSchedulerUnknown),
		errors.Is(err, subscribe.ErrAddressEmpty),
		errors.Is(err, subscribe.ErrFormatUnknown),
		errors.Is(err, assemble.ErrCollectorNotFound),
		errors.Is(err, assemble.ErrFormatUnsupported),
		errors.Is(err, assemble.ErrComposerNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (storage, func()) {
	if cfg.Storage.Backend == "sqlite" {
		conn, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось открыть SQLite")
		}
		store, err := repo.NewSQLite(conn)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось применить схему SQLite")
		}
		return store, func() { _ = conn.Close() }
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	store := repo.NewPostgres(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: миграция схемы не удалась")
	}
	return store, pool.Close
}

func openQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.DispatchQueue {
	if cfg.Queues.Backend == "rabbitmq" {
		q, err := queue.NewRabbitDispatchQueue(cfg.RabbitURL, cfg.Queues.Dispatch)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("api: не указан адрес Redis (REDIS_ADDR)")
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
