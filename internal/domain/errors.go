package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthFailed возвращается при несовпадении подписи уведомления.
var ErrAuthFailed = errors.New("websub signature mismatch")

// ErrMalformed возвращается, если тело уведомления не удалось разобрать.
var ErrMalformed = errors.New("malformed notification payload")

// ErrChallengeMismatch возвращается, если запрос верификации не соответствует
// ожидаемой подписке.
var ErrChallengeMismatch = errors.New("challenge does not match a pending subscription")

// ErrSubscriptionNotFound возвращается, если записи подписки ещё нет.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// RateLimitError сигнализирует, что получатель попросил подождать перед повтором.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit извлекает RateLimitError из цепочки ошибок.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
