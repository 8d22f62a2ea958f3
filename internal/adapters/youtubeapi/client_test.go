package youtubeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tubecord/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient("test-key", srv.URL, nil)
	client.fetchDelay = 0
	return client
}

func baseNotification() domain.Notification {
	return domain.Notification{
		Type:       domain.ContentUpload,
		ExternalID: "v1",
		ChannelID:  "UC123",
	}
}

func TestClassifyUploadWithoutLiveDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "v1" {
			t.Errorf("ожидали запрос ролика v1, получили %q", got)
		}
		_, _ = w.Write([]byte(`{"items":[{"snippet":{"liveBroadcastContent":"none"}}]}`))
	})

	n, err := client.Classify(context.Background(), baseNotification())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n.Type != domain.ContentUpload {
		t.Fatalf("без liveStreamingDetails это загрузка: %s", n.Type)
	}
}

func TestClassifyLiveStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{
			"snippet":{"liveBroadcastContent":"live"},
			"liveStreamingDetails":{"actualStartTime":"2025-03-01T12:00:00Z"}
		}]}`))
	})

	n, err := client.Classify(context.Background(), baseNotification())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n.Type != domain.ContentLivestreamLive {
		t.Fatalf("идущая трансляция: %s", n.Type)
	}
	if n.ActualStartAt == nil {
		t.Fatalf("время старта должно переноситься в уведомление")
	}
}

func TestClassifyUpcomingStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{
			"snippet":{"liveBroadcastContent":"upcoming"},
			"liveStreamingDetails":{"scheduledStartTime":"2025-03-02T18:00:00Z"}
		}]}`))
	})

	n, err := client.Classify(context.Background(), baseNotification())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n.Type != domain.ContentLivestream {
		t.Fatalf("запланированная трансляция: %s", n.Type)
	}
	if n.ScheduledStartAt == nil {
		t.Fatalf("запланированное время должно переноситься в уведомление")
	}
}

func TestClassifyCompletedStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{
			"snippet":{"liveBroadcastContent":"none"},
			"liveStreamingDetails":{"actualStartTime":"2025-03-01T12:00:00Z","actualEndTime":"2025-03-01T14:00:00Z"}
		}]}`))
	})

	n, err := client.Classify(context.Background(), baseNotification())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n.Type != domain.ContentLivestreamCompleted {
		t.Fatalf("завершённая трансляция: %s", n.Type)
	}
}

func TestClassifyKeepsFeedTypeOnAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	in := baseNotification()
	in.Type = domain.ContentLivestreamLive
	n, err := client.Classify(context.Background(), in)
	if err == nil {
		t.Fatalf("ошибка API должна вернуться вызывающему")
	}
	if n.Type != domain.ContentLivestreamLive {
		t.Fatalf("при ошибке API тип фида сохраняется: %s", n.Type)
	}
}

func TestClassifyWithoutAPIKey(t *testing.T) {
	client := NewClient("", "", nil)
	in := baseNotification()
	in.Type = domain.ContentLivestream

	n, err := client.Classify(context.Background(), in)
	if err != nil {
		t.Fatalf("без ключа классификация не должна ходить в сеть: %v", err)
	}
	if n.Type != domain.ContentLivestream {
		t.Fatalf("без ключа тип фида сохраняется: %s", n.Type)
	}
}
