package domain

import (
	"context"
	"time"
)

// SubscriptionRepo управляет записью подписки.
type SubscriptionRepo interface {
	GetSubscription(ctx context.Context, channelID string) (Subscription, error)
	SaveSubscription(ctx context.Context, sub Subscription) error
}

// SeenPostRepo реализует барьер дедупликации: атомарная вставка «если ещё нет».
// Insert возвращает true, если запись создана, и false, если идентификатор уже встречался.
type SeenPostRepo interface {
	InsertSeen(ctx context.Context, contentType ContentType, externalID string) (bool, error)
	CountSeen(ctx context.Context, contentType ContentType) (int, error)
}

// DeliveryQueue передаёт события от приёмников к воркеру доставки.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	Pop(ctx context.Context) (DeliveryJob, error)
}

// HubClient отправляет запросы подписки внешнему хабу.
type HubClient interface {
	Subscribe(ctx context.Context, topic, callback, secret string, lease time.Duration) error
	Unsubscribe(ctx context.Context, topic, callback string) error
}

// NotificationSender доставляет событие в один вебхук.
type NotificationSender interface {
	Send(ctx context.Context, target DeliveryTarget, notification Notification) error
}

// CommunityFetcher выгружает текущий список постов сообщества.
type CommunityFetcher interface {
	FetchPosts(ctx context.Context, channelID string, limit int) ([]CommunityPost, error)
}

// VideoClassifier уточняет тип события по внешним метаданным ролика.
type VideoClassifier interface {
	Classify(ctx context.Context, notification Notification) (Notification, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
