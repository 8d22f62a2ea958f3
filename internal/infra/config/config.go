package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"tubecord/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8000"`

	WebSub struct {
		HubURL       string `envconfig:"WEBSUB_HUB_URL" default:"https://pubsubhubbub.appspot.com/subscribe"`
		CallbackURL  string `envconfig:"CALLBACK_URL"`
		Secret       string `envconfig:"CALLBACK_SECRET"`
		LeaseSeconds int    `envconfig:"LEASE_SECONDS" default:"432000"`
	} `envconfig:""`

	YouTube struct {
		ChannelID string `envconfig:"YOUTUBE_CHANNEL_ID"`
		APIKey    string `envconfig:"YOUTUBE_API_KEY"`
	} `envconfig:""`

	Discord struct {
		UploadWebhookURLs     string `envconfig:"UPLOAD_WEBHOOK_URLS"`
		UploadRoleIDs         string `envconfig:"UPLOAD_ROLE_IDS"`
		LivestreamWebhookURLs string `envconfig:"LIVESTREAM_WEBHOOK_URLS"`
		LivestreamRoleIDs     string `envconfig:"LIVESTREAM_ROLE_IDS"`
		CommunityWebhookURLs  string `envconfig:"COMMUNITY_WEBHOOK_URLS"`
		CommunityRoleIDs      string `envconfig:"COMMUNITY_ROLE_IDS"`
	} `envconfig:""`

	Community struct {
		CheckIntervalMinutes int `envconfig:"COMMUNITY_CHECK_INTERVAL_MINUTES" default:"15"`
		FetchLimit           int `envconfig:"COMMUNITY_FETCH_LIMIT" default:"20"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Rabbit struct {
		URL           string `envconfig:"RABBITMQ_URL"`
		ManagementURL string `envconfig:"RABBITMQ_MANAGEMENT_URL"`
	} `envconfig:""`

	Queues struct {
		Delivery string `envconfig:"DELIVERY_QUEUE_KEY" default:"delivery_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if cfg.Community.CheckIntervalMinutes < 1 {
		cfg.Community.CheckIntervalMinutes = 1
	}
	if cfg.Community.CheckIntervalMinutes > 24*60 {
		cfg.Community.CheckIntervalMinutes = 24 * 60
	}
	return cfg
}

// Addr возвращает адрес HTTP сервера.
func (c AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// TopicURL возвращает URL топика WebSub для настроенного канала.
func (c AppConfig) TopicURL() string {
	return "https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + c.YouTube.ChannelID
}

// DeliveryTargets собирает получателей из конфигурации по типам контента.
func (c AppConfig) DeliveryTargets() []domain.DeliveryTarget {
	var targets []domain.DeliveryTarget
	targets = append(targets, buildTargets(c.Discord.UploadWebhookURLs, c.Discord.UploadRoleIDs, domain.ContentUpload)...)
	targets = append(targets, buildTargets(c.Discord.LivestreamWebhookURLs, c.Discord.LivestreamRoleIDs, domain.ContentLivestream)...)
	targets = append(targets, buildTargets(c.Discord.CommunityWebhookURLs, c.Discord.CommunityRoleIDs, domain.ContentCommunity)...)
	return targets
}

func buildTargets(webhookList, roleList string, contentType domain.ContentType) []domain.DeliveryTarget {
	urls := splitList(webhookList)
	if len(urls) == 0 {
		return nil
	}
	roles := splitList(roleList)
	targets := make([]domain.DeliveryTarget, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, domain.DeliveryTarget{WebhookURL: u, RoleIDs: roles, ContentType: contentType})
	}
	return targets
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
