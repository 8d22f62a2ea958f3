package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tubecord/internal/domain"
)

func TestBuildMessageUpload(t *testing.T) {
	n := domain.Notification{
		Type:         domain.ContentUpload,
		ExternalID:   "v1",
		ChannelID:    "UC123",
		Title:        "Новый ролик",
		Author:       "Demo Channel",
		URL:          "https://www.youtube.com/watch?v=v1",
		PublishedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ThumbnailURL: "https://img.youtube.com/vi/v1/maxresdefault.jpg",
	}

	message, embed := BuildMessage(n)
	if !strings.Contains(message, "Demo Channel") {
		t.Fatalf("текст должен упоминать автора: %q", message)
	}
	if embed.Color != colorUpload {
		t.Fatalf("загрузка использует красный цвет: %#x", embed.Color)
	}
	if embed.Footer == nil || embed.Footer.Text != "YouTube • Uploaded" {
		t.Fatalf("подпись карточки не совпала: %+v", embed.Footer)
	}
	if embed.Thumbnail == nil || embed.Thumbnail.URL == "" {
		t.Fatalf("карточка должна нести превью")
	}
	if embed.Timestamp != "2025-03-01T12:00:00Z" {
		t.Fatalf("время публикации в RFC3339: %q", embed.Timestamp)
	}
}

func TestBuildMessageCommunityUsesPostText(t *testing.T) {
	n := domain.Notification{
		Type:   domain.ContentCommunity,
		Title:  "Community Post from Demo",
		Author: "Demo",
		Text:   "всем привет",
	}
	_, embed := BuildMessage(n)
	if embed.Color != colorCommunity {
		t.Fatalf("пост сообщества синий: %#x", embed.Color)
	}
	if embed.Description != "всем привет" {
		t.Fatalf("описание должно брать текст поста: %q", embed.Description)
	}
}

func TestBuildContentRoleMentions(t *testing.T) {
	content := BuildContent("🔴 Demo is LIVE!", []string{"111", "222"})
	if content != "<@&111> <@&222> 🔴 Demo is LIVE!" {
		t.Fatalf("упоминания ролей идут перед текстом: %q", content)
	}
}

func TestSendSuccess(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("тело запроса не разобрано: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(zerolog.Nop())
	target := domain.DeliveryTarget{WebhookURL: srv.URL, RoleIDs: []string{"111"}, ContentType: domain.ContentUpload}
	n := domain.Notification{Type: domain.ContentUpload, ExternalID: "v1", Title: "ролик", Author: "Demo", PublishedAt: time.Now()}

	if err := sender.Send(context.Background(), target, n); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("в запросе должна быть одна карточка")
	}
	if !strings.Contains(got.Content, "<@&111>") {
		t.Fatalf("упоминание роли должно попасть в content: %q", got.Content)
	}
}

func TestSendPacesRequestsPerWebhook(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(zerolog.Nop())
	target := domain.DeliveryTarget{WebhookURL: srv.URL, ContentType: domain.ContentUpload}
	n := domain.Notification{Type: domain.ContentUpload, ExternalID: "v1", Title: "ролик", PublishedAt: time.Now()}

	for i := 0; i < 20; i++ {
		if err := sender.Send(context.Background(), target, n); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	if len(stamps) != 20 {
		t.Fatalf("ожидали 20 запросов, было %d", len(stamps))
	}
	// Шесть подряд идущих запросов растягиваются минимум на секунду,
	// то есть в любую скользящую секунду укладывается не больше пяти.
	for i := 0; i+5 < len(stamps); i++ {
		if window := stamps[i+5].Sub(stamps[i]); window < time.Second-50*time.Millisecond {
			t.Fatalf("запросы %d..%d уложились в %s, лимит 5 в секунду нарушен", i, i+5, window)
		}
	}
}

func TestSendHonorsRetryAfter(t *testing.T) {
	var calls int
	var gap time.Duration
	var lastCall time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		now := time.Now()
		if calls == 1 {
			lastCall = now
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]float64{"retry_after": 0.3})
			return
		}
		gap = now.Sub(lastCall)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(zerolog.Nop())
	target := domain.DeliveryTarget{WebhookURL: srv.URL, ContentType: domain.ContentUpload}
	n := domain.Notification{Type: domain.ContentUpload, ExternalID: "v1", PublishedAt: time.Now()}

	if err := sender.Send(context.Background(), target, n); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 2 {
		t.Fatalf("после 429 должен быть ровно один повтор, запросов %d", calls)
	}
	if gap < 250*time.Millisecond {
		t.Fatalf("повтор раньше retry_after: %s", gap)
	}
}

func TestSendGivesUpAfterRepeatedRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]float64{"retry_after": 0.01})
	}))
	defer srv.Close()

	sender := NewSender(zerolog.Nop())
	target := domain.DeliveryTarget{WebhookURL: srv.URL, ContentType: domain.ContentUpload}
	n := domain.Notification{Type: domain.ContentUpload, ExternalID: "v1", PublishedAt: time.Now()}

	err := sender.Send(context.Background(), target, n)
	if err == nil {
		t.Fatalf("постоянный 429 должен завершиться ошибкой")
	}
	if _, ok := domain.AsRateLimit(err); !ok {
		t.Fatalf("ошибка должна нести RateLimitError: %v", err)
	}
	if calls != maxSendAttempts {
		t.Fatalf("ожидали %d попыток, было %d", maxSendAttempts, calls)
	}
}
