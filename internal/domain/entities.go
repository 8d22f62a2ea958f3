package domain

import (
	"fmt"
	"time"
)

// ContentType определяет тип активности канала.
type ContentType string

const (
	ContentUpload              ContentType = "upload"
	ContentLivestream          ContentType = "livestream"
	ContentLivestreamLive      ContentType = "livestream_live"
	ContentLivestreamCompleted ContentType = "livestream_completed"
	ContentCommunity           ContentType = "community"
)

// SeenType сводит варианты трансляций к одному типу для таблицы seen_posts.
func (c ContentType) SeenType() ContentType {
	switch c {
	case ContentLivestreamLive, ContentLivestreamCompleted:
		return ContentLivestream
	default:
		return c
	}
}

// RouteType определяет, под каким типом подбираются получатели:
// идущая трансляция уходит в те же вебхуки, что и запланированная.
func (c ContentType) RouteType() ContentType {
	if c == ContentLivestreamLive {
		return ContentLivestream
	}
	return c
}

// SubscriptionState описывает состояние WebSub-подписки.
type SubscriptionState string

const (
	StateUnsubscribed SubscriptionState = "unsubscribed"
	StatePending      SubscriptionState = "pending"
	StateActive       SubscriptionState = "active"
	StateFailed       SubscriptionState = "failed"
)

// Subscription хранит текущее состояние подписки на канал.
type Subscription struct {
	ChannelID   string
	State       SubscriptionState
	LeaseExpiry *time.Time
	Secret      string
	UpdatedAt   time.Time
}

// LeaseRemaining возвращает остаток аренды; ноль, если аренда не задана или истекла.
func (s Subscription) LeaseRemaining(now time.Time) time.Duration {
	if s.LeaseExpiry == nil {
		return 0
	}
	remaining := s.LeaseExpiry.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SeenPost фиксирует уже обработанный идентификатор контента.
type SeenPost struct {
	ContentType ContentType
	ExternalID  string
	FirstSeenAt time.Time
}

// Notification представляет нормализованное событие канала.
type Notification struct {
	Type             ContentType
	ExternalID       string
	ChannelID        string
	Title            string
	Author           string
	URL              string
	PublishedAt      time.Time
	UpdatedAt        time.Time
	Text             string
	ThumbnailURL     string
	ScheduledStartAt *time.Time
	ActualStartAt    *time.Time
}

// IsRecent сообщает, опубликовано ли событие не раньше окна давности.
// События без даты публикации считаются свежими.
func (n Notification) IsRecent(now time.Time, window time.Duration) bool {
	if n.PublishedAt.IsZero() {
		return true
	}
	return now.Sub(n.PublishedAt) <= window
}

// ChannelURL возвращает ссылку на канал.
func (n Notification) ChannelURL() string {
	return "https://www.youtube.com/channel/" + n.ChannelID
}

// VideoThumbnailURL строит ссылку на превью ролика.
func VideoThumbnailURL(videoID string) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", videoID)
}

// DeliveryTarget описывает один настроенный вебхук Discord.
type DeliveryTarget struct {
	WebhookURL  string
	RoleIDs     []string
	ContentType ContentType
}

// TargetsFor выбирает получателей для типа события с учётом маршрутизации трансляций.
func TargetsFor(targets []DeliveryTarget, contentType ContentType) []DeliveryTarget {
	route := contentType.RouteType()
	var matched []DeliveryTarget
	for _, t := range targets {
		if t.ContentType == route {
			matched = append(matched, t)
		}
	}
	return matched
}

// CommunityPost представляет пост со вкладки «Сообщество».
type CommunityPost struct {
	ID          string
	ChannelID   string
	ChannelName string
	Text        string
	ImageURLs   []string
	VideoID     string
	LikeCount   int
	PublishedAt time.Time
	URL         string
}

// ToNotification переводит пост сообщества в нормализованное событие.
func (p CommunityPost) ToNotification() Notification {
	title := "Community Post"
	if p.ChannelName != "" {
		title = "Community Post from " + p.ChannelName
	}
	var thumbnail string
	if len(p.ImageURLs) > 0 {
		thumbnail = p.ImageURLs[0]
	}
	return Notification{
		Type:         ContentCommunity,
		ExternalID:   p.ID,
		ChannelID:    p.ChannelID,
		Title:        title,
		Author:       p.ChannelName,
		URL:          p.URL,
		PublishedAt:  p.PublishedAt,
		Text:         p.Text,
		ThumbnailURL: thumbnail,
	}
}
