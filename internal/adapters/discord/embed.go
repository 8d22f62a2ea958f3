package discord

import (
	"fmt"
	"strings"
	"time"

	"tubecord/internal/domain"
)

// Цвета встраиваемых карточек по типам контента.
const (
	colorUpload    = 0xFF0000
	colorScheduled = 0xFF4500
	colorLive      = 0xFF0000
	colorCommunity = 0x1DA1F2
)

// Embed описывает встраиваемую карточку Discord.
type Embed struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Color       int             `json:"color,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
	Author      *EmbedAuthor    `json:"author,omitempty"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
}

// EmbedThumbnail содержит превью карточки.
type EmbedThumbnail struct {
	URL string `json:"url"`
}

// EmbedAuthor содержит автора карточки.
type EmbedAuthor struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// EmbedFooter содержит подпись карточки.
type EmbedFooter struct {
	Text string `json:"text"`
}

type template struct {
	message     string
	description string
	footer      string
	color       int
}

func templateFor(contentType domain.ContentType) template {
	switch contentType {
	case domain.ContentLivestream:
		return template{
			message:     "📡 %s has scheduled a livestream",
			description: "%s will be streaming soon",
			footer:      "YouTube • Scheduled Stream",
			color:       colorScheduled,
		}
	case domain.ContentLivestreamLive:
		return template{
			message:     "🔴 %s is LIVE!",
			description: "%s is streaming now",
			footer:      "YouTube • LIVE",
			color:       colorLive,
		}
	case domain.ContentCommunity:
		return template{
			message:     "📝 %s posted in the community tab",
			description: "New community post from %s",
			footer:      "YouTube • Community Post",
			color:       colorCommunity,
		}
	default:
		return template{
			message:     "📺 %s just uploaded a new video!",
			description: "Check out this new video from %s",
			footer:      "YouTube • Uploaded",
			color:       colorUpload,
		}
	}
}

// BuildMessage собирает текст сообщения и карточку для уведомления.
func BuildMessage(n domain.Notification) (string, Embed) {
	tpl := templateFor(n.Type)
	author := n.Author
	if author == "" {
		author = "Unknown Channel"
	}

	embed := Embed{
		Title:       n.Title,
		Description: fmt.Sprintf(tpl.description, author),
		URL:         n.URL,
		Color:       tpl.color,
		Footer:      &EmbedFooter{Text: tpl.footer},
		Author: &EmbedAuthor{
			Name: author,
			URL:  n.ChannelURL(),
		},
	}
	if n.ThumbnailURL != "" {
		embed.Thumbnail = &EmbedThumbnail{URL: n.ThumbnailURL}
	}
	if !n.PublishedAt.IsZero() {
		embed.Timestamp = n.PublishedAt.UTC().Format(time.RFC3339)
	}

	if n.Type == domain.ContentCommunity {
		embed.Title = "📝 " + n.Title
		if text := strings.TrimSpace(n.Text); text != "" {
			embed.Description = text
		}
	}

	return fmt.Sprintf(tpl.message, author), embed
}

// BuildContent склеивает упоминания ролей с текстом сообщения.
func BuildContent(message string, roleIDs []string) string {
	parts := make([]string, 0, len(roleIDs)+1)
	for _, id := range roleIDs {
		parts = append(parts, "<@&"+id+">")
	}
	if message != "" {
		parts = append(parts, message)
	}
	return strings.Join(parts, " ")
}
