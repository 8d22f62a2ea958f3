package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tubecord/internal/domain"
	"tubecord/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionRepo = (*Postgres)(nil)
var _ domain.SeenPostRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subscriptions (
    channel_id   TEXT PRIMARY KEY,
    state        TEXT NOT NULL,
    lease_expiry TIMESTAMPTZ,
    secret       TEXT NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS seen_posts (
    content_type  TEXT NOT NULL,
    external_id   TEXT NOT NULL,
    first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (content_type, external_id)
);
`)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "subscriptions", start, err)
	return err
}

// GetSubscription реализует domain.SubscriptionRepo.
func (p *Postgres) GetSubscription(ctx context.Context, channelID string) (domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var sub domain.Subscription
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT channel_id, state, lease_expiry, secret, updated_at
FROM subscriptions
WHERE channel_id = $1
`, channelID).Scan(&sub.ChannelID, &sub.State, &sub.LeaseExpiry, &sub.Secret, &sub.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_get", "subscriptions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

// SaveSubscription сохраняет состояние подписки целиком.
func (p *Postgres) SaveSubscription(ctx context.Context, sub domain.Subscription) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO subscriptions (channel_id, state, lease_expiry, secret, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (channel_id) DO UPDATE SET
    state = EXCLUDED.state,
    lease_expiry = EXCLUDED.lease_expiry,
    secret = EXCLUDED.secret,
    updated_at = EXCLUDED.updated_at
`, sub.ChannelID, sub.State, sub.LeaseExpiry, sub.Secret, sub.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_save", "subscriptions", start, err)
	return err
}

// InsertSeen атомарно регистрирует идентификатор контента.
// Возвращает false, если идентификатор уже встречался.
func (p *Postgres) InsertSeen(ctx context.Context, contentType domain.ContentType, externalID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO seen_posts (content_type, external_id)
VALUES ($1, $2)
`, contentType.SeenType(), externalID)
	metrics.ObserveNetworkRequest("postgres", "seen_posts_insert", "seen_posts", start, err)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountSeen возвращает число зарегистрированных идентификаторов по типу.
func (p *Postgres) CountSeen(ctx context.Context, contentType domain.ContentType) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM seen_posts WHERE content_type = $1
`, contentType.SeenType()).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "seen_posts_count", "seen_posts", start, err)
	if err != nil {
		return 0, err
	}
	return count, nil
}
