package websub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rs/zerolog"

	"tubecord/internal/infra/metrics"
)

// HubClient отправляет запросы подписки и отписки хабу PubSubHubbub.
type HubClient struct {
	hubURL string
	client *http.Client
	log    zerolog.Logger
}

// NewHubClient создаёт клиента хаба.
func NewHubClient(hubURL string, logger zerolog.Logger) *HubClient {
	return &HubClient{
		hubURL: hubURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
}

// Subscribe отправляет запрос на подписку. Хаб отвечает 202/204 и подтверждает
// подписку отдельным GET на callback.
func (h *HubClient) Subscribe(ctx context.Context, topic, callback, secret string, lease time.Duration) error {
	form := url.Values{
		"hub.callback":      {callback},
		"hub.topic":         {topic},
		"hub.mode":          {"subscribe"},
		"hub.lease_seconds": {strconv.Itoa(int(lease / time.Second))},
	}
	if secret != "" {
		form.Set("hub.secret", secret)
	}
	return h.post(ctx, "subscribe", form)
}

// Unsubscribe отправляет запрос на отписку.
func (h *HubClient) Unsubscribe(ctx context.Context, topic, callback string) error {
	form := url.Values{
		"hub.callback": {callback},
		"hub.topic":    {topic},
		"hub.mode":     {"unsubscribe"},
	}
	return h.post(ctx, "unsubscribe", form)
}

func (h *HubClient) post(ctx context.Context, mode string, form url.Values) error {
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.hubURL, strings.NewReader(form.Encode()))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			start := time.Now()
			resp, err := h.client.Do(req)
			metrics.ObserveNetworkRequest("websub", mode, "hub", start, err)
			if err != nil {
				return fmt.Errorf("execute request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
				return nil
			}
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Unrecoverable(fmt.Errorf("hub rejected %s: status %d: %s", mode, resp.StatusCode, strings.TrimSpace(string(data))))
			}
			return fmt.Errorf("hub %s failed: status %d: %s", mode, resp.StatusCode, strings.TrimSpace(string(data)))
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			h.log.Warn().Uint("attempt", n).Err(err).Str("mode", mode).Msg("повтор запроса к хабу")
		}),
	)
	if err != nil {
		return fmt.Errorf("hub %s: %w", mode, err)
	}
	return nil
}
