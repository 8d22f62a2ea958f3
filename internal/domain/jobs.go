package domain

import "time"

// DeliveryJob — единица работы воркера доставки.
// Deduped выставляется, когда вставка в seen_posts уже выполнена на стороне
// поллера: повторная вставка для такого события всегда проиграла бы самой себе.
type DeliveryJob struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	Deduped      bool         `json:"deduped"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
}
