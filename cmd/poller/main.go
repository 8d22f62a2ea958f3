package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	communityadapter "tubecord/internal/adapters/community"
	"tubecord/internal/adapters/repo"
	"tubecord/internal/domain"
	"tubecord/internal/infra/config"
	"tubecord/internal/infra/db"
	httpinfra "tubecord/internal/infra/http"
	applog "tubecord/internal/infra/log"
	"tubecord/internal/infra/metrics"
	"tubecord/internal/infra/queue"
	communityusecase "tubecord/internal/usecase/community"
	dispatchusecase "tubecord/internal/usecase/dispatch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	if cfg.YouTube.ChannelID == "" {
		logger.Fatal().Msg("poller: не указан канал (YOUTUBE_CHANNEL_ID)")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("poller: не удалось создать схему БД")
	}

	deliveryQueue := newDeliveryQueue(cfg, logger)
	dispatchSvc := dispatchusecase.NewService(repoAdapter, deliveryQueue, nil, nil, nil, logger.With().Str("component", "dispatch").Logger())

	fetcher := communityadapter.NewInnertubeFetcher(logger.With().Str("component", "innertube").Logger())
	pollSvc := communityusecase.NewService(
		fetcher,
		repoAdapter,
		dispatchSvc,
		cfg.YouTube.ChannelID,
		cfg.Community.FetchLimit,
		time.Duration(cfg.Community.CheckIntervalMinutes)*time.Minute,
		logger.With().Str("component", "community").Logger(),
	)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	server.Router.Post("/community/check", func(w http.ResponseWriter, r *http.Request) {
		found, err := pollSvc.CheckNow(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "new_posts": found})
	})
	server.Router.Get("/community/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := pollSvc.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "status unavailable")
			return
		}
		writeJSON(w, status)
	})

	go pollSvc.Run(ctx)
	go func() {
		if err := server.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("poller: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("poller: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func newDeliveryQueue(cfg config.AppConfig, logger zerolog.Logger) domain.DeliveryQueue {
	if cfg.Rabbit.URL != "" {
		q, err := queue.NewRabbitDeliveryQueue(cfg.Rabbit.URL, cfg.Rabbit.ManagementURL, cfg.Queues.Delivery)
		if err != nil {
			logger.Fatal().Err(err).Msg("poller: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("poller: не указана очередь (REDIS_ADDR или RABBITMQ_URL)")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return queue.NewRedisDeliveryQueue(client, cfg.Queues.Delivery)
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
