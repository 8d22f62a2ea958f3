package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tubecord/internal/adapters/discord"
	"tubecord/internal/adapters/repo"
	"tubecord/internal/adapters/youtubeapi"
	"tubecord/internal/domain"
	"tubecord/internal/infra/cache"
	"tubecord/internal/infra/config"
	"tubecord/internal/infra/db"
	applog "tubecord/internal/infra/log"
	"tubecord/internal/infra/metrics"
	"tubecord/internal/infra/queue"
	dispatchusecase "tubecord/internal/usecase/dispatch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось создать схему БД")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	deliveryQueue := newDeliveryQueue(cfg, redisClient, logger)

	var videoCache domain.Cache
	if redisClient != nil {
		videoCache = cache.NewRedis(redisClient)
	}
	classifier := youtubeapi.NewClient(cfg.YouTube.APIKey, "", videoCache)

	targets := cfg.DeliveryTargets()
	if len(targets) == 0 {
		logger.Fatal().Msg("dispatcher: не настроен ни один вебхук Discord")
	}

	sender := discord.NewSender(logger.With().Str("component", "discord").Logger())
	dispatchSvc := dispatchusecase.NewService(repoAdapter, deliveryQueue, sender, classifier, targets, logger.With().Str("component", "dispatch").Logger())

	logger.Info().Int("targets", len(targets)).Msg("dispatcher: старт")
	if err := dispatchSvc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("dispatcher: воркер остановлен с ошибкой")
	}
	logger.Info().Msg("dispatcher: остановка")
}

func newDeliveryQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.DeliveryQueue {
	if cfg.Rabbit.URL != "" {
		q, err := queue.NewRabbitDeliveryQueue(cfg.Rabbit.URL, cfg.Rabbit.ManagementURL, cfg.Queues.Delivery)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("dispatcher: не указана очередь (REDIS_ADDR или RABBITMQ_URL)")
	}
	return queue.NewRedisDeliveryQueue(redisClient, cfg.Queues.Delivery)
}
