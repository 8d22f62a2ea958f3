package domain

import "strings"

// ClassifyFromFeed определяет тип события только по данным фида.
// Значение liveHint берётся из yt:liveBroadcastContent; пустая строка или
// неизвестное значение трактуются как обычная загрузка.
func ClassifyFromFeed(liveHint string) ContentType {
	switch strings.ToLower(strings.TrimSpace(liveHint)) {
	case "live":
		return ContentLivestreamLive
	case "upcoming":
		return ContentLivestream
	case "none", "completed":
		return ContentLivestreamCompleted
	default:
		return ContentUpload
	}
}
