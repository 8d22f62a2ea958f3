package community

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

// Acceptor ставит уведомление в очередь доставки.
type Acceptor interface {
	Accept(ctx context.Context, notification domain.Notification, deduped bool) error
}

// Status описывает состояние поллера для /community/status.
type Status struct {
	ChannelID   string     `json:"channel_id"`
	Interval    string     `json:"interval"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
	LastFound   int        `json:"last_found"`
	TotalSeen   int        `json:"total_seen"`
}

// Service опрашивает вкладку «Сообщество» и передаёт новые посты в доставку.
type Service struct {
	fetcher  domain.CommunityFetcher
	seen     domain.SeenPostRepo
	acceptor Acceptor

	channelID string
	limit     int
	interval  time.Duration
	log       zerolog.Logger

	// checkMu сериализует проверки: затянувшийся тик приводит к пропуску
	// следующего, а не к параллельному опросу.
	checkMu sync.Mutex

	mu          sync.Mutex
	lastCheckAt *time.Time
	lastFound   int

	now func() time.Time
}

// NewService создаёт поллер постов сообщества.
func NewService(fetcher domain.CommunityFetcher, seen domain.SeenPostRepo, acceptor Acceptor, channelID string, limit int, interval time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		fetcher:   fetcher,
		seen:      seen,
		acceptor:  acceptor,
		channelID: channelID,
		limit:     limit,
		interval:  interval,
		log:       logger,
		now:       time.Now,
	}
}

// Run опрашивает канал до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.log.Info().Str("channel_id", s.channelID).Dur("interval", s.interval).Msg("поллер сообщества запущен")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.checkMu.TryLock() {
				s.log.Warn().Msg("предыдущая проверка ещё идёт, тик пропущен")
				continue
			}
			if _, err := s.check(ctx); err != nil {
				s.log.Error().Err(err).Msg("проверка постов сообщества")
			}
			s.checkMu.Unlock()
		}
	}
}

// CheckNow выполняет немедленную проверку. Возвращает число новых постов.
func (s *Service) CheckNow(ctx context.Context) (int, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	return s.check(ctx)
}

func (s *Service) check(ctx context.Context) (int, error) {
	start := s.now()
	defer func() {
		metrics.CommunityPollSeconds.Observe(time.Since(start).Seconds())
	}()

	posts, err := s.fetcher.FetchPosts(ctx, s.channelID, s.limit)
	if err != nil {
		return 0, fmt.Errorf("выгрузка постов: %w", err)
	}

	found := 0
	for _, post := range posts {
		inserted, err := s.seen.InsertSeen(ctx, domain.ContentCommunity, post.ID)
		if err != nil {
			return found, fmt.Errorf("вставка поста %s в seen_posts: %w", post.ID, err)
		}
		if !inserted {
			continue
		}
		notification := post.ToNotification()
		if err := s.acceptor.Accept(ctx, notification, true); err != nil {
			s.log.Error().Err(err).Str("post_id", post.ID).Msg("постановка поста в очередь")
			continue
		}
		found++
		s.log.Info().Str("post_id", post.ID).Msg("новый пост сообщества")
	}

	now := s.now()
	s.mu.Lock()
	s.lastCheckAt = &now
	s.lastFound = found
	s.mu.Unlock()

	s.log.Info().Int("fetched", len(posts)).Int("new", found).Msg("проверка постов завершена")
	return found, nil
}

// Status возвращает снимок состояния поллера.
func (s *Service) Status(ctx context.Context) (Status, error) {
	total, err := s.seen.CountSeen(ctx, domain.ContentCommunity)
	if err != nil {
		return Status{}, fmt.Errorf("подсчёт постов: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ChannelID:   s.channelID,
		Interval:    s.interval.String(),
		LastCheckAt: s.lastCheckAt,
		LastFound:   s.lastFound,
		TotalSeen:   total,
	}, nil
}
