package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

// recentWindow отсекает уведомления о старых роликах: хаб может прислать
// событие об обновлении метаданных давней загрузки.
const recentWindow = 24 * time.Hour

// Service реализует воркер доставки: барьер дедупликации и веер по вебхукам.
type Service struct {
	seen       domain.SeenPostRepo
	queue      domain.DeliveryQueue
	sender     domain.NotificationSender
	classifier domain.VideoClassifier
	targets    []domain.DeliveryTarget
	log        zerolog.Logger

	now func() time.Time
}

// NewService создаёт сервис доставки. Классификатор опционален.
func NewService(seen domain.SeenPostRepo, queue domain.DeliveryQueue, sender domain.NotificationSender, classifier domain.VideoClassifier, targets []domain.DeliveryTarget, logger zerolog.Logger) *Service {
	return &Service{
		seen:       seen,
		queue:      queue,
		sender:     sender,
		classifier: classifier,
		targets:    targets,
		log:        logger,
		now:        time.Now,
	}
}

// Accept ставит уведомление в очередь доставки. Приёмник отвечает хабу сразу,
// вся обработка идёт в воркере.
func (s *Service) Accept(ctx context.Context, notification domain.Notification, deduped bool) error {
	source := "push"
	if deduped {
		source = "poll"
	}
	metrics.IncReceived(source, string(notification.Type))

	job := domain.DeliveryJob{
		ID:           uuid.NewString(),
		Notification: notification,
		Deduped:      deduped,
		EnqueuedAt:   s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка в очередь: %w", err)
	}
	return nil
}

// Run обрабатывает очередь до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	for {
		job, err := s.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			s.log.Error().Err(err).Msg("чтение очереди доставки")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := s.Process(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("обработка задачи доставки")
		}
	}
}

// Process выполняет одну задачу доставки.
func (s *Service) Process(ctx context.Context, job domain.DeliveryJob) error {
	n := job.Notification

	// Уточнение типа до барьера: ключ seen_posts зависит от типа контента.
	if s.classifier != nil && n.Type != domain.ContentCommunity && !job.Deduped {
		refined, err := s.classifier.Classify(ctx, n)
		if err != nil {
			s.log.Warn().Err(err).Str("video_id", n.ExternalID).Msg("классификация не удалась, используем данные фида")
		} else {
			n = refined
		}
	}

	if !job.Deduped {
		inserted, err := s.seen.InsertSeen(ctx, n.Type, n.ExternalID)
		if err != nil {
			return fmt.Errorf("вставка в seen_posts: %w", err)
		}
		if !inserted {
			metrics.SeenDuplicates.Inc()
			s.log.Debug().Str("external_id", n.ExternalID).Msg("повторное уведомление отброшено")
			return nil
		}
	}

	if n.Type == domain.ContentLivestreamCompleted {
		s.log.Info().Str("video_id", n.ExternalID).Msg("завершённая трансляция пропущена")
		return nil
	}
	if !n.IsRecent(s.now(), recentWindow) {
		s.log.Info().Str("external_id", n.ExternalID).Time("published_at", n.PublishedAt).Msg("старое уведомление пропущено")
		return nil
	}

	targets := domain.TargetsFor(s.targets, n.Type)
	if len(targets) == 0 {
		s.log.Warn().Str("type", string(n.Type)).Msg("нет получателей для типа контента")
		return nil
	}

	var firstErr error
	delivered := 0
	for _, target := range targets {
		if err := s.sender.Send(ctx, target, n); err != nil {
			metrics.DeliveryErrors.Inc()
			s.log.Error().Err(err).Str("webhook", target.WebhookURL).Str("external_id", n.ExternalID).Msg("доставка в вебхук")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.IncDelivered(string(n.Type))
		s.log.Info().
			Str("external_id", n.ExternalID).
			Str("type", string(n.Type)).
			Int("delivered", delivered).
			Int("targets", len(targets)).
			Msg("уведомление доставлено")
	}
	return firstErr
}
