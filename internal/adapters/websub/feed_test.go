package websub

import (
	"errors"
	"testing"

	"tubecord/internal/domain"
)

const uploadFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>yt:video:dQw4w9WgXcQ</id>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Новый ролик</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
    <author>
      <name>Demo Channel</name>
      <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
    </author>
    <published>2025-03-01T12:00:00+00:00</published>
    <updated>2025-03-01T12:05:00+00:00</updated>
  </entry>
</feed>`

const liveFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <yt:videoId>live12345</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <yt:liveBroadcastContent>live</yt:liveBroadcastContent>
    <title>Стрим</title>
    <author><name>Demo Channel</name></author>
  </entry>
</feed>`

const tombstoneFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:at="http://purl.org/atompub/tombstones/1.0" xmlns="http://www.w3.org/2005/Atom">
  <at:deleted-entry ref="https://www.youtube.com/watch?v=gone123" when="2025-03-01T12:00:00+00:00">
    <at:by>
      <name>Demo Channel</name>
      <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
    </at:by>
  </at:deleted-entry>
</feed>`

func TestParseNotificationUpload(t *testing.T) {
	n, tomb, err := ParseNotification([]byte(uploadFeed))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if tomb != nil {
		t.Fatalf("обычное уведомление не должно быть tombstone")
	}
	if n.ExternalID != "dQw4w9WgXcQ" {
		t.Fatalf("ожидали video id dQw4w9WgXcQ, получили %q", n.ExternalID)
	}
	if n.ChannelID != "UCuAXFkgsw1L7xaCfnd5JJOw" {
		t.Fatalf("channel id не разобран: %q", n.ChannelID)
	}
	if n.Type != domain.ContentUpload {
		t.Fatalf("без подсказки фида тип должен быть upload: %s", n.Type)
	}
	if n.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("ссылка rel=alternate не разобрана: %q", n.URL)
	}
	if n.Author != "Demo Channel" {
		t.Fatalf("автор не разобран: %q", n.Author)
	}
	if n.PublishedAt.IsZero() || n.UpdatedAt.IsZero() {
		t.Fatalf("даты публикации не разобраны")
	}
}

func TestParseNotificationLiveHint(t *testing.T) {
	n, _, err := ParseNotification([]byte(liveFeed))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n.Type != domain.ContentLivestreamLive {
		t.Fatalf("подсказка live должна давать идущую трансляцию: %s", n.Type)
	}
	if n.URL != "https://www.youtube.com/watch?v=live12345" {
		t.Fatalf("без rel=alternate строится ссылка watch: %q", n.URL)
	}
}

func TestParseNotificationTombstone(t *testing.T) {
	_, tomb, err := ParseNotification([]byte(tombstoneFeed))
	if err != nil {
		t.Fatalf("tombstone должен разбираться без ошибки: %v", err)
	}
	if tomb == nil {
		t.Fatalf("ожидали tombstone")
	}
	if tomb.VideoID != "gone123" {
		t.Fatalf("video id из ref не извлечён: %q", tomb.VideoID)
	}
}

func TestParseNotificationMalformed(t *testing.T) {
	_, _, err := ParseNotification([]byte("это не xml"))
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("ожидали ErrMalformed, получили %v", err)
	}

	_, _, err = ParseNotification([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("фид без entry должен быть ErrMalformed: %v", err)
	}
}
