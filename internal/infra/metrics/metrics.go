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
	QueryCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_hits_total",
		Help: "Чтения, обслуженные из кэша без запроса к шлюзу",
	}, []string{"endpoint"})
	QueryCacheFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_fetches_total",
		Help: "Запросы к шлюзу, запущенные кэшем",
	}, []string{"endpoint", "status"})
	QueryCacheCoalesced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_coalesced_total",
		Help: "Чтения, присоединённые к уже выполняющемуся запросу",
	}, []string{"endpoint"})
	QueryCacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querycache_invalidations_total",
		Help: "Инвалидации записей кэша по тегам",
	}, []string{"tag_type", "action"})
	QueryCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "querycache_evictions_total",
		Help: "Записи, удалённые после истечения времени без подписчиков",
	})
	QueryCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "querycache_entries",
		Help: "Текущее количество записей кэша",
	})
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mutations_total",
		Help: "Мутации, выполненные через кэш",
	}, []string{"endpoint", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Количество активных контекстов сессий",
	})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		QueryCacheHits,
		QueryCacheFetches,
		QueryCacheCoalesced,
		QueryCacheInvalidations,
		QueryCacheEvictions,
		QueryCacheEntries,
		MutationsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		SessionsActive,
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

// ObserveMutation учитывает результат мутации.
func ObserveMutation(endpoint string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	MutationsTotal.WithLabelValues(endpoint, status).Inc()
}
