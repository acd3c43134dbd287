package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ChannelTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_ticks_total",
		Help: "Количество срабатываний планировщика по каналам",
	}, []string{"channel"})

	AssembleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assemble_seconds",
		Help:    "Время сборки выпуска по каналу",
		Buckets: prometheus.DefBuckets,
	})
	AssembleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assemble_errors_total",
		Help: "Ошибки при сборке выпусков",
	})

	CollectorItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_items_total",
		Help: "Количество элементов, отданных коллекторами",
	}, []string{"collector"})

	MessagesQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_queued_total",
		Help: "Количество сообщений, поставленных в очередь доставки",
	})
	MessagesSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_suppressed_total",
		Help: "Количество подписок, пропущенных из-за пустой выборки",
	})
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_total",
		Help: "Результаты доставки сообщений по статусам",
	}, []string{"status"})
	DispatchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_errors_total",
		Help: "Ошибки доставки сообщений",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ChannelTicksTotal,
		AssembleSeconds,
		AssembleErrors,
		CollectorItemsTotal,
		MessagesQueuedTotal,
		MessagesSuppressedTotal,
		DispatchTotal,
		DispatchErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncTickForChannel увеличивает счётчик срабатываний планировщика.
func IncTickForChannel(name string) {
	ChannelTicksTotal.WithLabelValues(name).Inc()
}

// IncDispatch увеличивает счётчик доставок с данным статусом.
func IncDispatch(status string) {
	DispatchTotal.WithLabelValues(status).Inc()
}
