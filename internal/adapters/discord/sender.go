package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

const (
	// Discord допускает до 5 запросов в секунду на вебхук.
	requestsPerSecond = 5
	maxSendAttempts   = 3
)

// Sender доставляет уведомления в вебхуки Discord с ограничением частоты
// на каждый URL.
type Sender struct {
	client *http.Client
	log    zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSender создаёт отправителя.
func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

var _ domain.NotificationSender = (*Sender)(nil)

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type rateLimitResponse struct {
	RetryAfter float64 `json:"retry_after"`
}

// Send доставляет уведомление в один вебхук. При 429 повтор выполняется после
// паузы из retry_after.
func (s *Sender) Send(ctx context.Context, target domain.DeliveryTarget, notification domain.Notification) error {
	message, embed := BuildMessage(notification)
	payload := webhookPayload{
		Content: BuildContent(message, target.RoleIDs),
		Embeds:  []Embed{embed},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if err := s.limiter(target.WebhookURL).Wait(ctx); err != nil {
			return err
		}

		err := s.post(ctx, target.WebhookURL, body)
		if err == nil {
			return nil
		}
		lastErr = err

		rl, ok := domain.AsRateLimit(err)
		if !ok {
			return err
		}
		s.log.Warn().Dur("retry_after", rl.RetryAfter).Int("attempt", attempt).Msg("discord попросил подождать")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.RetryAfter):
		}
	}
	return lastErr
}

func (s *Sender) post(ctx context.Context, webhookURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObserveNetworkRequest("discord", "webhook_send", "webhook", start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Second
		var rl rateLimitResponse
		if err := json.NewDecoder(resp.Body).Decode(&rl); err == nil && rl.RetryAfter > 0 {
			retryAfter = time.Duration(rl.RetryAfter * float64(time.Second))
		} else if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
				retryAfter = time.Duration(seconds * float64(time.Second))
			}
		}
		return &domain.RateLimitError{RetryAfter: retryAfter}
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
}

func (s *Sender) limiter(webhookURL string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[webhookURL]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		s.limiters[webhookURL] = lim
	}
	return lim
}
