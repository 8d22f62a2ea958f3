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
	NotificationsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_received_total",
		Help: "Уведомления, принятые от хаба или поллера",
	}, []string{"source", "type"})

	NotificationsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Уведомления, доставленные в Discord",
	}, []string{"type"})

	DeliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_errors_total",
		Help: "Ошибки доставки вебхуков",
	})

	SeenDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seen_duplicates_total",
		Help: "Уведомления, отброшенные дедупликацией",
	})

	SignatureFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_failures_total",
		Help: "Уведомления с неверной HMAC подписью",
	})

	SubscriptionRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_renewals_total",
		Help: "Попытки продления подписки",
	}, []string{"status"})

	SubscriptionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subscription_state",
		Help: "Состояние подписки: 0 unsubscribed, 1 pending, 2 active, 3 failed",
	})

	CommunityPollSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "community_poll_seconds",
		Help:    "Длительность цикла опроса постов сообщества",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NotificationsReceived,
		NotificationsDelivered,
		DeliveryErrors,
		SeenDuplicates,
		SignatureFailures,
		SubscriptionRenewals,
		SubscriptionState,
		CommunityPollSeconds,
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

// IncReceived увеличивает счётчик принятых уведомлений.
func IncReceived(source, contentType string) {
	NotificationsReceived.WithLabelValues(source, contentType).Inc()
}

// IncDelivered увеличивает счётчик доставленных уведомлений.
func IncDelivered(contentType string) {
	NotificationsDelivered.WithLabelValues(contentType).Inc()
}

// SetSubscriptionState обновляет gauge состояния подписки.
func SetSubscriptionState(state string) {
	states := map[string]float64{
		"unsubscribed": 0,
		"pending":      1,
		"active":       2,
		"failed":       3,
	}
	SubscriptionState.Set(states[state])
}
