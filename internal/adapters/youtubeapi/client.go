package youtubeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Client выполняет запросы videos.list к YouTube Data API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	cache   domain.Cache
	// Пауза перед запросом: сразу после push-уведомления API может ещё не
	// знать о ролике.
	fetchDelay time.Duration
}

// NewClient создаёт клиента YouTube Data API. Кэш опционален.
func NewClient(apiKey, baseURL string, cache domain.Cache) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		cache:      cache,
		fetchDelay: 3 * time.Second,
	}
}

type videosListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	Snippet struct {
		LiveBroadcastContent string `json:"liveBroadcastContent"`
	} `json:"snippet"`
	LiveStreamingDetails *struct {
		ActualStartTime    *time.Time `json:"actualStartTime"`
		ActualEndTime      *time.Time `json:"actualEndTime"`
		ScheduledStartTime *time.Time `json:"scheduledStartTime"`
		ScheduledEndTime   *time.Time `json:"scheduledEndTime"`
	} `json:"liveStreamingDetails"`
}

// Classify уточняет тип уведомления по данным API. При недоступности API или
// пустом ключе возвращается исходное уведомление: тип из фида уже выставлен.
func (c *Client) Classify(ctx context.Context, notification domain.Notification) (domain.Notification, error) {
	if c.apiKey == "" {
		return notification, nil
	}

	item, ok, err := c.fetchVideo(ctx, notification.ExternalID)
	if err != nil {
		// Фид остаётся консервативным источником истины.
		return notification, err
	}
	if !ok {
		notification.Type = domain.ContentUpload
		return notification, nil
	}

	if item.LiveStreamingDetails == nil {
		notification.Type = domain.ContentUpload
		return notification, nil
	}

	details := item.LiveStreamingDetails
	notification.ScheduledStartAt = details.ScheduledStartTime
	notification.ActualStartAt = details.ActualStartTime

	switch strings.ToLower(item.Snippet.LiveBroadcastContent) {
	case "live":
		notification.Type = domain.ContentLivestreamLive
	case "upcoming":
		notification.Type = domain.ContentLivestream
	default:
		notification.Type = domain.ContentLivestreamCompleted
	}
	return notification, nil
}

func (c *Client) fetchVideo(ctx context.Context, videoID string) (videoItem, bool, error) {
	if item, ok := c.cachedVideo(videoID); ok {
		return item, true, nil
	}

	select {
	case <-ctx.Done():
		return videoItem{}, false, ctx.Err()
	case <-time.After(c.fetchDelay):
	}

	params := url.Values{
		"part":   {"snippet,liveStreamingDetails"},
		"id":     {videoID},
		"key":    {c.apiKey},
		"fields": {"items(snippet(liveBroadcastContent),liveStreamingDetails(actualStartTime,actualEndTime,scheduledStartTime,scheduledEndTime))"},
	}
	endpoint := c.baseURL + "/videos?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return videoItem{}, false, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("youtube", "videos_list", "videos", start, err)
	if err != nil {
		return videoItem{}, false, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return videoItem{}, false, fmt.Errorf("videos.list failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var payload videosListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return videoItem{}, false, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Items) == 0 {
		return videoItem{}, false, nil
	}
	c.storeVideo(videoID, payload.Items[0])
	return payload.Items[0], true, nil
}

func (c *Client) cachedVideo(videoID string) (videoItem, bool) {
	if c.cache == nil {
		return videoItem{}, false
	}
	data, err := c.cache.Get("yt:video:" + videoID)
	if err != nil || len(data) == 0 {
		return videoItem{}, false
	}
	var item videoItem
	if err := json.Unmarshal(data, &item); err != nil {
		return videoItem{}, false
	}
	return item, true
}

func (c *Client) storeVideo(videoID string, item videoItem) {
	if c.cache == nil {
		return
	}
	if data, err := json.Marshal(item); err == nil {
		_ = c.cache.Set("yt:video:"+videoID, data, 10*time.Minute)
	}
}
