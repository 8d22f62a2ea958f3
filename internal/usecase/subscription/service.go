package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

const (
	// Проверка состояния подписки выполняется раз в минуту.
	renewTick = time.Minute
	// Подписка в состоянии pending считается зависшей после этого срока.
	pendingTimeout = 10 * time.Minute

	retryBaseDelay  = time.Minute
	retryMaxDelay   = time.Hour
	retryMaxAttempt = 6
)

// Config задаёт параметры подписки.
type Config struct {
	ChannelID   string
	Topic       string
	CallbackURL string
	Secret      string
	Lease       time.Duration
}

// Status описывает текущее состояние подписки для /websub/status.
type Status struct {
	ChannelID            string     `json:"channel_id"`
	State                string     `json:"state"`
	LeaseExpiry          *time.Time `json:"lease_expiry,omitempty"`
	LastSubscribeAt      *time.Time `json:"last_subscribe_at,omitempty"`
	LastVerificationAt   *time.Time `json:"last_verification_at,omitempty"`
	LastNotificationAt   *time.Time `json:"last_notification_at,omitempty"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	NotificationsHandled int64      `json:"notifications_handled"`
}

// Service управляет жизненным циклом WebSub-подписки. Все переходы состояния
// сериализованы мьютексом: хаб может прислать верификацию одновременно с
// циклом продления.
type Service struct {
	repo domain.SubscriptionRepo
	hub  domain.HubClient
	cfg  Config
	log  zerolog.Logger

	mu                   sync.Mutex
	failures             int
	nextRetryAt          time.Time
	lastSubscribeAt      *time.Time
	lastVerificationAt   *time.Time
	lastNotificationAt   *time.Time
	notificationsHandled int64

	now func() time.Time
}

// NewService создаёт сервис подписки.
func NewService(repo domain.SubscriptionRepo, hub domain.HubClient, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		hub:  hub,
		cfg:  cfg,
		log:  logger,
		now:  time.Now,
	}
}

// renewMargin возвращает запас до конца аренды, при котором пора продлевать.
func (s *Service) renewMargin() time.Duration {
	margin := s.cfg.Lease / 10
	if margin < time.Hour {
		margin = time.Hour
	}
	return margin
}

func (s *Service) loadOrInit(ctx context.Context) (domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, s.cfg.ChannelID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.Subscription{
			ChannelID: s.cfg.ChannelID,
			State:     domain.StateUnsubscribed,
		}, nil
	}
	return sub, err
}

// EnsureSubscribed идемпотентно доводит подписку до активного состояния.
// Повторный вызов при живой аренде не отправляет запросов хабу.
func (s *Service) EnsureSubscribed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.loadOrInit(ctx)
	if err != nil {
		return fmt.Errorf("загрузка подписки: %w", err)
	}

	now := s.now()
	if sub.State == domain.StateActive && sub.LeaseRemaining(now) > s.renewMargin() {
		s.log.Debug().Str("channel_id", sub.ChannelID).Msg("подписка активна, продление не требуется")
		return nil
	}
	if sub.State == domain.StatePending && now.Sub(sub.UpdatedAt) < pendingTimeout {
		return nil
	}
	return s.requestSubscribe(ctx, sub)
}

// requestSubscribe отправляет запрос хабу и переводит подписку в pending.
// Вызывается под мьютексом.
func (s *Service) requestSubscribe(ctx context.Context, sub domain.Subscription) error {
	now := s.now()
	if err := s.hub.Subscribe(ctx, s.cfg.Topic, s.cfg.CallbackURL, s.cfg.Secret, s.cfg.Lease); err != nil {
		s.failures++
		s.nextRetryAt = now.Add(s.retryDelay())
		metrics.SubscriptionRenewals.WithLabelValues("error").Inc()
		if s.failures >= retryMaxAttempt {
			sub.State = domain.StateFailed
			sub.UpdatedAt = now
			if saveErr := s.repo.SaveSubscription(ctx, sub); saveErr != nil {
				s.log.Error().Err(saveErr).Msg("не удалось сохранить состояние failed")
			}
			metrics.SetSubscriptionState(string(domain.StateFailed))
		}
		return fmt.Errorf("запрос подписки: %w", err)
	}

	s.lastSubscribeAt = &now
	metrics.SubscriptionRenewals.WithLabelValues("requested").Inc()

	sub.State = domain.StatePending
	sub.Secret = s.cfg.Secret
	sub.UpdatedAt = now
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("сохранение подписки: %w", err)
	}
	metrics.SetSubscriptionState(string(domain.StatePending))
	s.log.Info().Str("channel_id", sub.ChannelID).Msg("запрос подписки принят хабом")
	return nil
}

func (s *Service) retryDelay() time.Duration {
	attempt := s.failures - 1
	if attempt < 0 {
		attempt = 0
	}
	delay := retryBaseDelay << attempt
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}

// Unsubscribe снимает подписку. Запрос хабу выполняется по возможности,
// локальное состояние переходит в unsubscribed независимо от его исхода.
func (s *Service) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.loadOrInit(ctx)
	if err != nil {
		return fmt.Errorf("загрузка подписки: %w", err)
	}
	if sub.State == domain.StateUnsubscribed {
		return nil
	}

	if err := s.hub.Unsubscribe(ctx, s.cfg.Topic, s.cfg.CallbackURL); err != nil {
		s.log.Warn().Err(err).Msg("хаб не принял запрос отписки")
	}

	sub.State = domain.StateUnsubscribed
	sub.LeaseExpiry = nil
	sub.UpdatedAt = s.now()
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("сохранение подписки: %w", err)
	}
	metrics.SetSubscriptionState(string(domain.StateUnsubscribed))
	s.log.Info().Str("channel_id", sub.ChannelID).Msg("подписка снята")
	return nil
}

// ChallengeRequest содержит параметры GET-запроса верификации от хаба.
type ChallengeRequest struct {
	Mode         string
	Topic        string
	Challenge    string
	LeaseSeconds string
}

// HandleChallenge проверяет запрос верификации и возвращает строку challenge,
// которую нужно вернуть хабу в теле ответа.
func (s *Service) HandleChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	if req.Mode == "" || req.Topic == "" || req.Challenge == "" {
		return "", fmt.Errorf("%w: missing hub parameters", domain.ErrChallengeMismatch)
	}
	if req.Mode != "subscribe" && req.Mode != "unsubscribe" {
		return "", fmt.Errorf("%w: unexpected hub.mode %q", domain.ErrChallengeMismatch, req.Mode)
	}
	if req.Topic != s.cfg.Topic {
		return "", fmt.Errorf("%w: unexpected topic %q", domain.ErrChallengeMismatch, req.Topic)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.loadOrInit(ctx)
	if err != nil {
		return "", fmt.Errorf("загрузка подписки: %w", err)
	}

	now := s.now()
	s.lastVerificationAt = &now

	switch req.Mode {
	case "subscribe":
		// Подтверждать нечего: подписку никто не запрашивал.
		if sub.State != domain.StatePending {
			return "", fmt.Errorf("%w: subscribe verification in state %q", domain.ErrChallengeMismatch, sub.State)
		}
		lease := s.cfg.Lease
		if req.LeaseSeconds != "" {
			if seconds, err := strconv.Atoi(req.LeaseSeconds); err == nil && seconds > 0 {
				lease = time.Duration(seconds) * time.Second
			}
		}
		expiry := now.Add(lease)
		sub.State = domain.StateActive
		sub.LeaseExpiry = &expiry
		s.failures = 0
		s.nextRetryAt = time.Time{}
	case "unsubscribe":
		if sub.State != domain.StateUnsubscribed {
			return "", fmt.Errorf("%w: unsubscribe verification in state %q", domain.ErrChallengeMismatch, sub.State)
		}
		sub.LeaseExpiry = nil
	}

	sub.UpdatedAt = now
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return "", fmt.Errorf("сохранение подписки: %w", err)
	}
	metrics.SetSubscriptionState(string(sub.State))
	metrics.SubscriptionRenewals.WithLabelValues("verified").Inc()
	s.log.Info().
		Str("mode", req.Mode).
		Str("channel_id", sub.ChannelID).
		Msg("верификация хаба выполнена")
	return req.Challenge, nil
}

// NoteNotification фиксирует обработанное уведомление для статуса.
func (s *Service) NoteNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.lastNotificationAt = &now
	s.notificationsHandled++
}

// Status возвращает снимок состояния подписки.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.loadOrInit(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("загрузка подписки: %w", err)
	}
	return Status{
		ChannelID:            sub.ChannelID,
		State:                string(sub.State),
		LeaseExpiry:          sub.LeaseExpiry,
		LastSubscribeAt:      s.lastSubscribeAt,
		LastVerificationAt:   s.lastVerificationAt,
		LastNotificationAt:   s.lastNotificationAt,
		ConsecutiveFailures:  s.failures,
		NotificationsHandled: s.notificationsHandled,
	}, nil
}

// RunRenewalLoop продлевает подписку до отмены контекста.
func (s *Service) RunRenewalLoop(ctx context.Context) {
	ticker := time.NewTicker(renewTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.log.Error().Err(err).Msg("цикл продления подписки")
			}
		}
	}
}

// tick выполняет один шаг цикла продления.
func (s *Service) tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.loadOrInit(ctx)
	if err != nil {
		return fmt.Errorf("загрузка подписки: %w", err)
	}

	now := s.now()
	switch sub.State {
	case domain.StateActive:
		if sub.LeaseRemaining(now) <= s.renewMargin() {
			s.log.Info().Str("channel_id", sub.ChannelID).Msg("аренда на исходе, продлеваем подписку")
			return s.requestSubscribe(ctx, sub)
		}
	case domain.StatePending:
		if now.Sub(sub.UpdatedAt) > pendingTimeout {
			s.failures++
			s.nextRetryAt = now.Add(s.retryDelay())
			if s.failures >= retryMaxAttempt {
				s.log.Warn().Str("channel_id", sub.ChannelID).Msg("верификация так и не пришла, подписка переведена в failed")
				sub.State = domain.StateFailed
				sub.UpdatedAt = now
				if err := s.repo.SaveSubscription(ctx, sub); err != nil {
					return fmt.Errorf("сохранение подписки: %w", err)
				}
				metrics.SetSubscriptionState(string(domain.StateFailed))
				return nil
			}
			s.log.Warn().Str("channel_id", sub.ChannelID).Msg("верификация не пришла, повторяем запрос")
			return s.requestSubscribe(ctx, sub)
		}
	case domain.StateFailed:
		// После исчерпания попыток подписка остаётся failed до ручного
		// запуска через EnsureSubscribed.
		if s.failures < retryMaxAttempt && now.After(s.nextRetryAt) {
			return s.requestSubscribe(ctx, sub)
		}
	}
	return nil
}
