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
	TitleUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "title_updates_total",
		Help: "Количество обработанных уведомлений о проценте по исходу",
	}, []string{"outcome"})

	TitleJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "title_jobs_total",
		Help: "Количество заданий очереди титулов по причине",
	}, []string{"cause"})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	StatCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stat_cache_total",
		Help: "Обращения к кэшу статистики по результату",
	}, []string{"result"})

	SweptSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swept_snapshots_total",
		Help: "Снапшоты, досозданные плановой проверкой",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TitleUpdatesTotal,
		TitleJobsTotal,
		BotSendErrors,
		StatCacheTotal,
		SweptSnapshotsTotal,
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

// IncTitleUpdate учитывает исход обработки уведомления.
func IncTitleUpdate(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	TitleUpdatesTotal.WithLabelValues(outcome).Inc()
}

// IncTitleJob учитывает задание, поставленное в очередь.
func IncTitleJob(cause string) {
	if cause == "" {
		cause = "unknown"
	}
	TitleJobsTotal.WithLabelValues(cause).Inc()
}

// IncStatCache учитывает обращение к кэшу статистики.
func IncStatCache(result string) {
	StatCacheTotal.WithLabelValues(result).Inc()
}

// AddSweptSnapshots учитывает досозданные снапшоты.
func AddSweptSnapshots(n int) {
	if n > 0 {
		SweptSnapshotsTotal.Add(float64(n))
	}
}
