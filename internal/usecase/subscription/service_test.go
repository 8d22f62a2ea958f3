package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tubecord/internal/domain"
)

type stubRepo struct {
	sub    *domain.Subscription
	getErr error
}

func (s *stubRepo) GetSubscription(context.Context, string) (domain.Subscription, error) {
	if s.getErr != nil {
		return domain.Subscription{}, s.getErr
	}
	if s.sub == nil {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *s.sub, nil
}

func (s *stubRepo) SaveSubscription(_ context.Context, sub domain.Subscription) error {
	s.sub = &sub
	return nil
}

type stubHub struct {
	subscribeCalls   int
	unsubscribeCalls int
	err              error
}

func (h *stubHub) Subscribe(context.Context, string, string, string, time.Duration) error {
	h.subscribeCalls++
	return h.err
}

func (h *stubHub) Unsubscribe(context.Context, string, string) error {
	h.unsubscribeCalls++
	return h.err
}

func newTestService(repo *stubRepo, hub *stubHub) *Service {
	return NewService(repo, hub, Config{
		ChannelID:   "UC123",
		Topic:       "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123",
		CallbackURL: "https://relay.example/webhook",
		Secret:      "secret",
		Lease:       432000 * time.Second,
	}, zerolog.Nop())
}

func TestEnsureSubscribedRequestsWhenMissing(t *testing.T) {
	repo := &stubRepo{}
	hub := &stubHub{}
	svc := newTestService(repo, hub)

	if err := svc.EnsureSubscribed(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 1 {
		t.Fatalf("ожидали один запрос хабу, было %d", hub.subscribeCalls)
	}
	if repo.sub == nil || repo.sub.State != domain.StatePending {
		t.Fatalf("подписка должна перейти в pending: %+v", repo.sub)
	}
}

func TestEnsureSubscribedIdempotentWhileActive(t *testing.T) {
	expiry := time.Now().Add(96 * time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)

	if err := svc.EnsureSubscribed(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 0 {
		t.Fatalf("активная подписка с запасом аренды не должна дёргать хаб")
	}
}

func TestHandleChallengeActivates(t *testing.T) {
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID: "UC123",
		State:     domain.StatePending,
		UpdatedAt: time.Now(),
	}}
	svc := newTestService(repo, &stubHub{})

	challenge, err := svc.HandleChallenge(context.Background(), ChallengeRequest{
		Mode:         "subscribe",
		Topic:        "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123",
		Challenge:    "echo-me",
		LeaseSeconds: "3600",
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if challenge != "echo-me" {
		t.Fatalf("challenge должен вернуться как есть: %q", challenge)
	}
	if repo.sub.State != domain.StateActive {
		t.Fatalf("подписка должна стать активной: %s", repo.sub.State)
	}
	if repo.sub.LeaseExpiry == nil {
		t.Fatalf("срок аренды должен быть выставлен")
	}
	remaining := time.Until(*repo.sub.LeaseExpiry)
	if remaining < 55*time.Minute || remaining > 65*time.Minute {
		t.Fatalf("аренда должна браться из hub.lease_seconds: %s", remaining)
	}
}

func TestHandleChallengeTopicMismatch(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubHub{})

	_, err := svc.HandleChallenge(context.Background(), ChallengeRequest{
		Mode:      "subscribe",
		Topic:     "https://www.youtube.com/xml/feeds/videos.xml?channel_id=ДРУГОЙ",
		Challenge: "echo-me",
	})
	if !errors.Is(err, domain.ErrChallengeMismatch) {
		t.Fatalf("чужой топик должен отклоняться: %v", err)
	}
}

func TestUnsubscribeIsBestEffort(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	hub := &stubHub{err: errors.New("хаб недоступен")}
	svc := newTestService(repo, hub)

	if err := svc.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("отписка не должна зависеть от ответа хаба: %v", err)
	}
	if hub.unsubscribeCalls != 1 {
		t.Fatalf("запрос хабу должен был уйти")
	}
	if repo.sub.State != domain.StateUnsubscribed {
		t.Fatalf("состояние должно стать unsubscribed сразу: %s", repo.sub.State)
	}
	if repo.sub.LeaseExpiry != nil {
		t.Fatalf("аренда должна быть сброшена")
	}
}

func TestTickDoesNotResubscribeAfterUnsubscribe(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)

	if err := svc.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	// Давно снятая подписка не должна возвращаться к жизни циклом продления.
	repo.sub.UpdatedAt = time.Now().Add(-11 * time.Minute)
	if err := svc.tick(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 0 {
		t.Fatalf("после отписки цикл продления не должен переподписывать канал")
	}
	if repo.sub.State != domain.StateUnsubscribed {
		t.Fatalf("состояние должно остаться unsubscribed: %s", repo.sub.State)
	}
}

func TestHandleChallengeUnsubscribe(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	svc := newTestService(repo, &stubHub{})

	if err := svc.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.HandleChallenge(context.Background(), ChallengeRequest{
		Mode:      "unsubscribe",
		Topic:     "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123",
		Challenge: "bye",
	}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.sub.State != domain.StateUnsubscribed {
		t.Fatalf("после верификации отписки состояние unsubscribed: %s", repo.sub.State)
	}
	if repo.sub.LeaseExpiry != nil {
		t.Fatalf("аренда должна быть сброшена")
	}
}

func TestHandleChallengeRejectsStraySubscribe(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubHub{})

	_, err := svc.HandleChallenge(context.Background(), ChallengeRequest{
		Mode:      "subscribe",
		Topic:     "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123",
		Challenge: "stray",
	})
	if !errors.Is(err, domain.ErrChallengeMismatch) {
		t.Fatalf("верификация без запрошенной подписки должна отклоняться: %v", err)
	}
	if repo.sub != nil && repo.sub.State == domain.StateActive {
		t.Fatalf("чужая верификация не должна активировать подписку")
	}
}

func TestHandleChallengeRejectsUnsubscribeWhileActive(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	svc := newTestService(repo, &stubHub{})

	_, err := svc.HandleChallenge(context.Background(), ChallengeRequest{
		Mode:      "unsubscribe",
		Topic:     "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123",
		Challenge: "bye",
	})
	if !errors.Is(err, domain.ErrChallengeMismatch) {
		t.Fatalf("отписку никто не запрашивал, верификация должна отклоняться: %v", err)
	}
	if repo.sub.State != domain.StateActive {
		t.Fatalf("активная подписка не должна сниматься чужой верификацией: %s", repo.sub.State)
	}
}

func TestTickRenewsNearExpiry(t *testing.T) {
	// Остаток аренды меньше запаса max(lease/10, 1h) = 12h.
	expiry := time.Now().Add(6 * time.Hour)
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID:   "UC123",
		State:       domain.StateActive,
		LeaseExpiry: &expiry,
		UpdatedAt:   time.Now(),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)

	if err := svc.tick(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 1 {
		t.Fatalf("на исходе аренды должен уйти запрос продления")
	}
	if repo.sub.State != domain.StatePending {
		t.Fatalf("продление переводит подписку в pending: %s", repo.sub.State)
	}
}

func TestTickRetriesStuckPending(t *testing.T) {
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID: "UC123",
		State:     domain.StatePending,
		UpdatedAt: time.Now().Add(-30 * time.Minute),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)

	if err := svc.tick(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 1 {
		t.Fatalf("зависший pending должен приводить к повторному запросу")
	}
}

func TestTickStaysFailedAfterAttemptsExhausted(t *testing.T) {
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID: "UC123",
		State:     domain.StateFailed,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)
	svc.failures = retryMaxAttempt

	if err := svc.tick(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 0 {
		t.Fatalf("после исчерпания попыток автоматические повторы должны прекратиться")
	}
	if repo.sub.State != domain.StateFailed {
		t.Fatalf("подписка должна остаться failed: %s", repo.sub.State)
	}

	// Ручной запуск остаётся доступным.
	if err := svc.EnsureSubscribed(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 1 {
		t.Fatalf("ручной запуск должен отправить запрос хабу")
	}
}

func TestTickGivesUpOnPendingWithoutVerification(t *testing.T) {
	repo := &stubRepo{sub: &domain.Subscription{
		ChannelID: "UC123",
		State:     domain.StatePending,
		UpdatedAt: time.Now().Add(-30 * time.Minute),
	}}
	hub := &stubHub{}
	svc := newTestService(repo, hub)
	svc.failures = retryMaxAttempt - 1

	if err := svc.tick(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if hub.subscribeCalls != 0 {
		t.Fatalf("после исчерпания попыток хаб дёргать не нужно")
	}
	if repo.sub.State != domain.StateFailed {
		t.Fatalf("без верификации подписка должна перейти в failed: %s", repo.sub.State)
	}
}

func TestRepeatedFailuresMoveToFailed(t *testing.T) {
	repo := &stubRepo{}
	hub := &stubHub{err: errors.New("хаб недоступен")}
	svc := newTestService(repo, hub)

	for i := 0; i < retryMaxAttempt; i++ {
		svc.failures = i
		if err := svc.requestSubscribe(context.Background(), domain.Subscription{
			ChannelID: "UC123",
			State:     domain.StateUnsubscribed,
		}); err == nil {
			t.Fatalf("ожидали ошибку от хаба")
		}
		svc.nextRetryAt = time.Time{}
	}
	if repo.sub == nil || repo.sub.State != domain.StateFailed {
		t.Fatalf("после %d неудач подписка должна быть failed: %+v", retryMaxAttempt, repo.sub)
	}
}
