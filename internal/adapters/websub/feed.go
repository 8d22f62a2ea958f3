package websub

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"tubecord/internal/domain"
)

// atomFeed описывает Atom уведомление YouTube. Удалённые ролики приходят
// как tombstone-элемент at:deleted-entry вместо обычного entry.
type atomFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []atomEntry  `xml:"entry"`
	Deleted *atomDeleted `xml:"http://purl.org/atompub/tombstones/1.0 deleted-entry"`
}

type atomEntry struct {
	VideoID              string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID            string     `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	LiveBroadcastContent string     `xml:"http://www.youtube.com/xml/schemas/2015 liveBroadcastContent"`
	Title                string     `xml:"title"`
	Links                []atomLink `xml:"link"`
	Author               atomAuthor `xml:"author"`
	Published            time.Time  `xml:"published"`
	Updated              time.Time  `xml:"updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomAuthor struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

type atomDeleted struct {
	Ref  string `xml:"ref,attr"`
	When string `xml:"when,attr"`
}

// Tombstone описывает уведомление об удалённом или скрытом ролике.
type Tombstone struct {
	VideoID   string
	DeletedAt string
	Ref       string
}

// ParseNotification разбирает тело уведомления. Для tombstone возвращается
// заполненный Tombstone и нулевое уведомление.
func ParseNotification(body []byte) (domain.Notification, *Tombstone, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return domain.Notification{}, nil, fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}

	if feed.Deleted != nil {
		return domain.Notification{}, &Tombstone{
			VideoID:   videoIDFromWatchURL(feed.Deleted.Ref),
			DeletedAt: feed.Deleted.When,
			Ref:       feed.Deleted.Ref,
		}, nil
	}

	if len(feed.Entries) == 0 {
		return domain.Notification{}, nil, fmt.Errorf("%w: feed has no entries", domain.ErrMalformed)
	}
	entry := feed.Entries[0]
	if entry.VideoID == "" || entry.ChannelID == "" {
		return domain.Notification{}, nil, fmt.Errorf("%w: entry is missing video or channel id", domain.ErrMalformed)
	}

	link := "https://www.youtube.com/watch?v=" + entry.VideoID
	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			link = l.Href
			break
		}
	}

	title := entry.Title
	if title == "" {
		title = "Unknown Title"
	}
	author := entry.Author.Name
	if author == "" {
		author = "Unknown Author"
	}

	n := domain.Notification{
		Type:         domain.ContentUpload,
		ExternalID:   entry.VideoID,
		ChannelID:    entry.ChannelID,
		Title:        title,
		Author:       author,
		URL:          link,
		PublishedAt:  entry.Published,
		UpdatedAt:    entry.Updated,
		ThumbnailURL: domain.VideoThumbnailURL(entry.VideoID),
	}
	if hint := strings.TrimSpace(entry.LiveBroadcastContent); hint != "" {
		n.Type = domain.ClassifyFromFeed(hint)
	}
	return n, nil, nil
}

func videoIDFromWatchURL(ref string) string {
	_, after, ok := strings.Cut(ref, "watch?v=")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(after, "&")
	return id
}
