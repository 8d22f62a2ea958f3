package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tubecord/internal/adapters/repo"
	"tubecord/internal/adapters/websub"
	"tubecord/internal/domain"
	"tubecord/internal/infra/config"
	"tubecord/internal/infra/db"
	httpinfra "tubecord/internal/infra/http"
	applog "tubecord/internal/infra/log"
	"tubecord/internal/infra/metrics"
	"tubecord/internal/infra/queue"
	dispatchusecase "tubecord/internal/usecase/dispatch"
	subscriptionusecase "tubecord/internal/usecase/subscription"
)

const maxNotificationBody = 1 << 20

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	if cfg.YouTube.ChannelID == "" {
		logger.Fatal().Msg("relay: не указан канал (YOUTUBE_CHANNEL_ID)")
	}
	if cfg.WebSub.CallbackURL == "" {
		logger.Fatal().Msg("relay: не указан callback (CALLBACK_URL)")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("relay: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("relay: не удалось создать схему БД")
	}

	deliveryQueue := newDeliveryQueue(cfg, logger)

	hubClient := websub.NewHubClient(cfg.WebSub.HubURL, logger.With().Str("component", "websub").Logger())
	subSvc := subscriptionusecase.NewService(repoAdapter, hubClient, subscriptionusecase.Config{
		ChannelID:   cfg.YouTube.ChannelID,
		Topic:       cfg.TopicURL(),
		CallbackURL: cfg.WebSub.CallbackURL,
		Secret:      cfg.WebSub.Secret,
		Lease:       time.Duration(cfg.WebSub.LeaseSeconds) * time.Second,
	}, logger.With().Str("component", "subscription").Logger())

	// Приёмник только ставит задачи в очередь, доставку выполняет dispatcher.
	dispatchSvc := dispatchusecase.NewService(repoAdapter, deliveryQueue, nil, nil, nil, logger.With().Str("component", "dispatch").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	registerRoutes(server, cfg, subSvc, dispatchSvc, logger)

	go subSvc.RunRenewalLoop(ctx)
	go func() {
		if err := subSvc.EnsureSubscribed(ctx); err != nil {
			logger.Error().Err(err).Msg("relay: стартовая подписка не удалась")
		}
	}()

	go func() {
		if err := server.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("relay: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("relay: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func newDeliveryQueue(cfg config.AppConfig, logger zerolog.Logger) domain.DeliveryQueue {
	if cfg.Rabbit.URL != "" {
		q, err := queue.NewRabbitDeliveryQueue(cfg.Rabbit.URL, cfg.Rabbit.ManagementURL, cfg.Queues.Delivery)
		if err != nil {
			logger.Fatal().Err(err).Msg("relay: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("relay: не указана очередь (REDIS_ADDR или RABBITMQ_URL)")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return queue.NewRedisDeliveryQueue(client, cfg.Queues.Delivery)
}

func registerRoutes(server *httpinfra.Server, cfg config.AppConfig, subSvc *subscriptionusecase.Service, dispatchSvc *dispatchusecase.Service, logger zerolog.Logger) {
	server.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		targets := map[string]int{}
		for _, t := range cfg.DeliveryTargets() {
			targets[string(t.ContentType)]++
		}
		writeJSON(w, map[string]any{
			"status":           "ok",
			"channel_id":       cfg.YouTube.ChannelID,
			"delivery_targets": targets,
		})
	})

	server.Router.Get("/websub/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := subSvc.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "status unavailable")
			return
		}
		writeJSON(w, status)
	})

	server.Router.Get("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		if err := subSvc.EnsureSubscribed(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "subscription requested"})
	})

	server.Router.Get("/unsubscribe", func(w http.ResponseWriter, r *http.Request) {
		if err := subSvc.Unsubscribe(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "unsubscribed"})
	})

	// Верификация подписки хабом.
	server.Router.Get("/webhook", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		challenge, err := subSvc.HandleChallenge(r.Context(), subscriptionusecase.ChallengeRequest{
			Mode:         q.Get("hub.mode"),
			Topic:        q.Get("hub.topic"),
			Challenge:    q.Get("hub.challenge"),
			LeaseSeconds: q.Get("hub.lease_seconds"),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("relay: верификация отклонена")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge))
	})

	// Push-уведомления хаба.
	server.Router.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read body")
			return
		}

		if err := websub.VerifySignature(r.Header, body, cfg.WebSub.Secret); err != nil {
			metrics.SignatureFailures.Inc()
			logger.Warn().Err(err).Msg("relay: подпись уведомления не сошлась")
			w.WriteHeader(http.StatusForbidden)
			return
		}

		notification, tombstone, err := websub.ParseNotification(body)
		if err != nil {
			logger.Warn().Err(err).Msg("relay: уведомление не разобрано")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if tombstone != nil {
			logger.Info().Str("video_id", tombstone.VideoID).Msg("relay: ролик удалён или скрыт")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Очередь гарантирует быстрый 2xx: хаб не ждёт доставку.
		if err := dispatchSvc.Accept(r.Context(), notification, false); err != nil {
			logger.Error().Err(err).Msg("relay: постановка уведомления в очередь")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		subSvc.NoteNotification()
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
