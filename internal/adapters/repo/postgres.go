package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ChannelRepo      = (*Postgres)(nil)
	_ domain.SubscriptionRepo = (*Postgres)(nil)
	_ domain.ItemRepo         = (*Postgres)(nil)
	_ domain.MessageRepo      = (*Postgres)(nil)
)

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

const pgSchema = `
CREATE TABLE IF NOT EXISTS channels (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL DEFAULT '',
	collector      TEXT NOT NULL DEFAULT '',
	formats        TEXT[] NOT NULL DEFAULT '{}',
	scheduler      TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT FALSE,
	triggered_last TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         BIGSERIAL PRIMARY KEY,
	channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	secret     TEXT NOT NULL UNIQUE,
	address    TEXT NOT NULL,
	format     TEXT NOT NULL,
	pending    BOOLEAN NOT NULL DEFAULT TRUE,
	selection  TEXT[] NOT NULL DEFAULT '{}',
	cue        TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (channel_id, address, format)
);

CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	terms        TEXT[] NOT NULL DEFAULT '{}',
	published_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS items_published_at_idx ON items (published_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	channel_id      BIGINT NOT NULL,
	subscription_id BIGINT NOT NULL,
	address         TEXT NOT NULL,
	format          TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	payload         BYTEA NOT NULL,
	status          TEXT NOT NULL,
	status_message  TEXT NOT NULL DEFAULT '',
	attempts        INT NOT NULL DEFAULT 0,
	status_changed  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_channel_status_idx ON messages (channel_id, status);

CREATE TABLE IF NOT EXISTS channel_counters (
	channel_id BIGINT PRIMARY KEY,
	sent_total BIGINT NOT NULL DEFAULT 0
);
`

// Migrate создаёт схему, если её ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, pgSchema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	return err
}

// CreateChannel регистрирует канал.
func (p *Postgres) CreateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channels (name, title, collector, formats, scheduler, active, triggered_last)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at
`, ch.Name, ch.Title, ch.CollectorName, ch.Formats, string(ch.SchedulerKind), ch.Active, ch.TriggeredLast).Scan(&ch.ID, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_insert", "channels", start, err)
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Channel{}, domain.ErrChannelExists
	}
	if err != nil {
		return domain.Channel{}, err
	}
	return ch, nil
}

// GetChannelByName возвращает канал по имени.
func (p *Postgres) GetChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		ch   domain.Channel
		kind string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, title, collector, formats, scheduler, active, triggered_last, created_at
FROM channels WHERE name=$1
`, name).Scan(&ch.ID, &ch.Name, &ch.Title, &ch.CollectorName, &ch.Formats, &kind, &ch.Active, &ch.TriggeredLast, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_get_by_name", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	if err != nil {
		return domain.Channel{}, err
	}
	ch.SchedulerKind = domain.SchedulerKind(kind)
	return ch, nil
}

// ListChannels возвращает все каналы.
func (p *Postgres) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, title, collector, formats, scheduler, active, triggered_last, created_at
FROM channels ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var (
			ch   domain.Channel
			kind string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Title, &ch.CollectorName, &ch.Formats, &kind, &ch.Active, &ch.TriggeredLast, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.SchedulerKind = domain.SchedulerKind(kind)
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SetChannelActive переключает участие канала в расписании.
func (p *Postgres) SetChannelActive(ctx context.Context, channelID int64, active bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE channels SET active=$2 WHERE id=$1`, channelID, active)
	metrics.ObserveNetworkRequest("postgres", "channels_set_active", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChannelNotFound
	}
	return nil
}

// UpdateTriggeredLast фиксирует момент последнего срабатывания расписания.
func (p *Postgres) UpdateTriggeredLast(ctx context.Context, channelID int64, triggered time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE channels SET triggered_last=$2 WHERE id=$1`, channelID, triggered)
	metrics.ObserveNetworkRequest("postgres", "channels_update_triggered", "channels", start, err)
	return err
}

// CreateSubscription сохраняет новую подписку.
func (p *Postgres) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO subscriptions (channel_id, secret, address, format, pending, selection, cue)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at
`, sub.ChannelID, sub.Secret, sub.Address, sub.Format, sub.Pending, sub.Selection, string(sub.Cue)).Scan(&sub.ID, &sub.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_insert", "subscriptions", start, err)
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Subscription{}, domain.ErrAlreadySubscribed
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

// GetSubscriptionBySecret возвращает подписку по секрету.
func (p *Postgres) GetSubscriptionBySecret(ctx context.Context, secret string) (domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		sub domain.Subscription
		cue string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, channel_id, secret, address, format, pending, selection, cue, created_at
FROM subscriptions WHERE secret=$1
`, secret).Scan(&sub.ID, &sub.ChannelID, &sub.Secret, &sub.Address, &sub.Format, &sub.Pending, &sub.Selection, &cue, &sub.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_get_by_secret", "subscriptions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.Cue = domain.Cue(cue)
	return sub, nil
}

// ConfirmSubscription снимает с подписки флаг ожидания подтверждения.
func (p *Postgres) ConfirmSubscription(ctx context.Context, secret string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE subscriptions SET pending=FALSE WHERE secret=$1`, secret)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_confirm", "subscriptions", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription удаляет подписку.
func (p *Postgres) DeleteSubscription(ctx context.Context, secret string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM subscriptions WHERE secret=$1`, secret)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_delete", "subscriptions", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptionsGrouped возвращает подписки канала, сгруппированные по
// адресату. Подписки внутри группы идут в порядке создания.
func (p *Postgres) ListSubscriptionsGrouped(ctx context.Context, channelID int64) (map[string][]domain.Subscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, secret, address, format, pending, selection, cue, created_at
FROM subscriptions WHERE channel_id=$1
ORDER BY address, id
`, channelID)
	metrics.ObserveNetworkRequest("postgres", "subscriptions_list_grouped", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grouped := make(map[string][]domain.Subscription)
	for rows.Next() {
		var (
			sub domain.Subscription
			cue string
		)
		if err := rows.Scan(&sub.ID, &sub.ChannelID, &sub.Secret, &sub.Address, &sub.Format, &sub.Pending, &sub.Selection, &cue, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Cue = domain.Cue(cue)
		grouped[sub.Address] = append(grouped[sub.Address], sub)
	}
	return grouped, rows.Err()
}

// UpdateSubscriptionCue сохраняет продвинутый курсор подписки.
func (p *Postgres) UpdateSubscriptionCue(ctx context.Context, subscriptionID int64, cue domain.Cue) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE subscriptions SET cue=$2 WHERE id=$1`, subscriptionID, string(cue))
	metrics.ObserveNetworkRequest("postgres", "subscriptions_update_cue", "subscriptions", start, err)
	return err
}

// SaveItems сохраняет элементы батчем и возвращает число новых.
func (p *Postgres) SaveItems(ctx context.Context, items []domain.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
INSERT INTO items (id, title, url, body, terms, published_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`, item.ID, item.Title, item.URL, item.Body, item.Terms, item.PublishedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "items_send_batch", "items", start, nil)
	defer br.Close()
	inserted := 0
	for range items {
		start = time.Now()
		tag, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "items_batch_exec", "items", start, err)
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListItemsSince возвращает элементы, опубликованные не раньше since. Граница
// включается: элемент, опубликованный в ту же секунду, что и прошлый сбор,
// лучше отдать повторно, чем потерять. Непустой список тем сужает выборку до
// пересекающихся по темам элементов.
func (p *Postgres) ListItemsSince(ctx context.Context, since time.Time, terms []string) ([]domain.Item, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT id, title, url, body, terms, published_at
FROM items WHERE published_at >= $1
ORDER BY published_at, id
`
	args := []any{since}
	if len(terms) > 0 {
		query = `
SELECT id, title, url, body, terms, published_at
FROM items WHERE published_at >= $1 AND terms && $2
ORDER BY published_at, id
`
		args = append(args, terms)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "items_list_since", "items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &item.Body, &item.Terms, &item.PublishedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListTerms возвращает словарь тем, встречающихся в сохранённых элементах.
func (p *Postgres) ListTerms(ctx context.Context) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT unnest(terms) AS term FROM items ORDER BY term`)
	metrics.ObserveNetworkRequest("postgres", "items_list_terms", "items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

// CreateMessage сохраняет собранное сообщение.
func (p *Postgres) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if !msg.Status.Valid() {
		return domain.Message{}, domain.ErrInvalidStatus
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO messages (id, channel_id, subscription_id, address, format, subject, payload, status, status_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING status_changed, created_at
`, msg.ID, msg.ChannelID, msg.SubscriptionID, msg.Address, msg.Format, msg.Subject, msg.Payload, string(msg.Status), msg.StatusMessage).Scan(&msg.StatusChanged, &msg.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// GetMessage возвращает сообщение по идентификатору.
func (p *Postgres) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		msg    domain.Message
		status string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE id=$1
`, id).Scan(&msg.ID, &msg.ChannelID, &msg.SubscriptionID, &msg.Address, &msg.Format, &msg.Subject, &msg.Payload, &status, &msg.StatusMessage, &msg.Attempts, &msg.StatusChanged, &msg.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "messages_get", "messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	msg.Status = domain.MessageStatus(status)
	return msg, nil
}

// UpdateMessageStatus переводит сообщение в новый статус и считает попытку.
func (p *Postgres) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, note string) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE messages SET status=$2, status_message=$3, attempts=attempts+1, status_changed=now()
WHERE id=$1
`, id, string(status), note)
	metrics.ObserveNetworkRequest("postgres", "messages_update_status", "messages", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// ListMessagesByStatus возвращает сообщения канала в данном статусе.
// channelID <= 0 снимает фильтр по каналу, limit <= 0 — ограничение выборки.
func (p *Postgres) ListMessagesByStatus(ctx context.Context, channelID int64, status domain.MessageStatus, limit int) ([]domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE status=$1
ORDER BY created_at, id LIMIT $2
`
	args := []any{string(status), limit}
	if channelID > 0 {
		query = `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE channel_id=$1 AND status=$2
ORDER BY created_at, id LIMIT $3
`
		args = []any{channelID, string(status), limit}
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "messages_list_by_status", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var (
			msg      domain.Message
			rawState string
		)
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.SubscriptionID, &msg.Address, &msg.Format, &msg.Subject, &msg.Payload, &rawState, &msg.StatusMessage, &msg.Attempts, &msg.StatusChanged, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Status = domain.MessageStatus(rawState)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountMessagesByStatus считает сообщения канала по статусам.
func (p *Postgres) CountMessagesByStatus(ctx context.Context, channelID int64) (map[domain.MessageStatus]int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT status, COUNT(*) FROM messages WHERE channel_id=$1 GROUP BY status
`, channelID)
	metrics.ObserveNetworkRequest("postgres", "messages_count_by_status", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteMessagesByStatus удаляет сообщения канала в перечисленных статусах.
func (p *Postgres) DeleteMessagesByStatus(ctx context.Context, channelID int64, statuses ...domain.MessageStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	raw := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if !status.Valid() {
			return 0, domain.ErrInvalidStatus
		}
		raw = append(raw, string(status))
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE channel_id=$1 AND status = ANY($2)`, channelID, raw)
	metrics.ObserveNetworkRequest("postgres", "messages_delete_by_status", "messages", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AddSent увеличивает накопительный счётчик доставленных сообщений канала.
func (p *Postgres) AddSent(ctx context.Context, channelID int64, n int) error {
	if n <= 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channel_counters (channel_id, sent_total) VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE SET sent_total = channel_counters.sent_total + EXCLUDED.sent_total
`, channelID, n)
	metrics.ObserveNetworkRequest("postgres", "counters_add_sent", "channel_counters", start, err)
	return err
}

// SentTotal возвращает накопительный счётчик доставленных сообщений.
func (p *Postgres) SentTotal(ctx context.Context, channelID int64) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var total int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT sent_total FROM channel_counters WHERE channel_id=$1`, channelID).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "counters_sent_total", "channel_counters", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return total, err
}
