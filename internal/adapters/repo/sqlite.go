package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// SQLite реализует те же репозитории на database/sql для одиночного
// развёртывания без Postgres. Массивы строк хранятся как JSON.
type SQLite struct {
	db *sql.DB
}

var (
	_ domain.ChannelRepo      = (*SQLite)(nil)
	_ domain.SubscriptionRepo = (*SQLite)(nil)
	_ domain.ItemRepo         = (*SQLite)(nil)
	_ domain.MessageRepo      = (*SQLite)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS channels (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL DEFAULT '',
	collector      TEXT NOT NULL DEFAULT '',
	formats        TEXT NOT NULL DEFAULT '[]',
	scheduler      TEXT NOT NULL DEFAULT '',
	active         INTEGER NOT NULL DEFAULT 0,
	triggered_last TEXT NOT NULL DEFAULT '1970-01-01T00:00:00Z',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	secret     TEXT NOT NULL UNIQUE,
	address    TEXT NOT NULL,
	format     TEXT NOT NULL,
	pending    INTEGER NOT NULL DEFAULT 1,
	selection  TEXT NOT NULL DEFAULT '[]',
	cue        TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (channel_id, address, format)
);

CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	terms        TEXT NOT NULL DEFAULT '[]',
	published_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS items_published_at_idx ON items(published_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	channel_id      INTEGER NOT NULL,
	subscription_id INTEGER NOT NULL,
	address         TEXT NOT NULL,
	format          TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	payload         BLOB NOT NULL,
	status          TEXT NOT NULL,
	status_message  TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	status_changed  TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_channel_status_idx ON messages(channel_id, status);

CREATE TABLE IF NOT EXISTS channel_counters (
	channel_id INTEGER PRIMARY KEY,
	sent_total INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLite создаёт адаптер поверх открытой БД и применяет схему.
func NewSQLite(conn *sql.DB) (*SQLite, error) {
	s := &SQLite{db: conn}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("миграция схемы: %w", err)
	}
	return s, nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateChannel регистрирует канал.
func (s *SQLite) CreateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ch.CreatedAt = time.Now().UTC()
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO channels (name, title, collector, formats, scheduler, active, triggered_last, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, ch.Name, ch.Title, ch.CollectorName, encodeStrings(ch.Formats), string(ch.SchedulerKind), ch.Active, sqliteTime(ch.TriggeredLast), sqliteTime(ch.CreatedAt))
	metrics.ObserveNetworkRequest("sqlite", "channels_insert", "channels", start, err)
	if isUniqueViolation(err) {
		return domain.Channel{}, domain.ErrChannelExists
	}
	if err != nil {
		return domain.Channel{}, err
	}
	ch.ID, err = res.LastInsertId()
	if err != nil {
		return domain.Channel{}, err
	}
	return ch, nil
}

func scanChannel(row interface{ Scan(...any) error }) (domain.Channel, error) {
	var (
		ch            domain.Channel
		formats, kind string
		triggered     string
		created       string
	)
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Title, &ch.CollectorName, &formats, &kind, &ch.Active, &triggered, &created); err != nil {
		return domain.Channel{}, err
	}
	ch.Formats = decodeStrings(formats)
	ch.SchedulerKind = domain.SchedulerKind(kind)
	var err error
	if ch.TriggeredLast, err = parseSQLiteTime(triggered); err != nil {
		return domain.Channel{}, err
	}
	if ch.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return domain.Channel{}, err
	}
	return ch, nil
}

// GetChannelByName возвращает канал по имени.
func (s *SQLite) GetChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, title, collector, formats, scheduler, active, triggered_last, created_at
FROM channels WHERE name=?
`, name)
	ch, err := scanChannel(row)
	metrics.ObserveNetworkRequest("sqlite", "channels_get_by_name", "channels", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	return ch, err
}

// ListChannels возвращает все каналы.
func (s *SQLite) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, title, collector, formats, scheduler, active, triggered_last, created_at
FROM channels ORDER BY id
`)
	metrics.ObserveNetworkRequest("sqlite", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SetChannelActive переключает участие канала в расписании.
func (s *SQLite) SetChannelActive(ctx context.Context, channelID int64, active bool) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET active=? WHERE id=?`, active, channelID)
	metrics.ObserveNetworkRequest("sqlite", "channels_set_active", "channels", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrChannelNotFound
	}
	return nil
}

// UpdateTriggeredLast фиксирует момент последнего срабатывания расписания.
func (s *SQLite) UpdateTriggeredLast(ctx context.Context, channelID int64, triggered time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE channels SET triggered_last=? WHERE id=?`, sqliteTime(triggered), channelID)
	metrics.ObserveNetworkRequest("sqlite", "channels_update_triggered", "channels", start, err)
	return err
}

// CreateSubscription сохраняет новую подписку.
func (s *SQLite) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	sub.CreatedAt = time.Now().UTC()
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO subscriptions (channel_id, secret, address, format, pending, selection, cue, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, sub.ChannelID, sub.Secret, sub.Address, sub.Format, sub.Pending, encodeStrings(sub.Selection), string(sub.Cue), sqliteTime(sub.CreatedAt))
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_insert", "subscriptions", start, err)
	if isUniqueViolation(err) {
		return domain.Subscription{}, domain.ErrAlreadySubscribed
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.ID, err = res.LastInsertId()
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

func scanSubscription(row interface{ Scan(...any) error }) (domain.Subscription, error) {
	var (
		sub            domain.Subscription
		selection, cue string
		created        string
	)
	if err := row.Scan(&sub.ID, &sub.ChannelID, &sub.Secret, &sub.Address, &sub.Format, &sub.Pending, &selection, &cue, &created); err != nil {
		return domain.Subscription{}, err
	}
	sub.Selection = decodeStrings(selection)
	sub.Cue = domain.Cue(cue)
	var err error
	if sub.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

// GetSubscriptionBySecret возвращает подписку по секрету.
func (s *SQLite) GetSubscriptionBySecret(ctx context.Context, secret string) (domain.Subscription, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
SELECT id, channel_id, secret, address, format, pending, selection, cue, created_at
FROM subscriptions WHERE secret=?
`, secret)
	sub, err := scanSubscription(row)
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_get_by_secret", "subscriptions", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, err
}

// ConfirmSubscription снимает с подписки флаг ожидания подтверждения.
func (s *SQLite) ConfirmSubscription(ctx context.Context, secret string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET pending=0 WHERE secret=?`, secret)
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_confirm", "subscriptions", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription удаляет подписку.
func (s *SQLite) DeleteSubscription(ctx context.Context, secret string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE secret=?`, secret)
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_delete", "subscriptions", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptionsGrouped возвращает подписки канала по адресатам.
func (s *SQLite) ListSubscriptionsGrouped(ctx context.Context, channelID int64) (map[string][]domain.Subscription, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, channel_id, secret, address, format, pending, selection, cue, created_at
FROM subscriptions WHERE channel_id=?
ORDER BY address, id
`, channelID)
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_list_grouped", "subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	grouped := make(map[string][]domain.Subscription)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		grouped[sub.Address] = append(grouped[sub.Address], sub)
	}
	return grouped, rows.Err()
}

// UpdateSubscriptionCue сохраняет продвинутый курсор подписки.
func (s *SQLite) UpdateSubscriptionCue(ctx context.Context, subscriptionID int64, cue domain.Cue) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET cue=? WHERE id=?`, string(cue), subscriptionID)
	metrics.ObserveNetworkRequest("sqlite", "subscriptions_update_cue", "subscriptions", start, err)
	return err
}

// SaveItems сохраняет элементы и возвращает число новых.
func (s *SQLite) SaveItems(ctx context.Context, items []domain.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, item := range items {
		start := time.Now()
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO items (id, title, url, body, terms, published_at)
VALUES (?, ?, ?, ?, ?, ?)
`, item.ID, item.Title, item.URL, item.Body, encodeStrings(item.Terms), sqliteTime(item.PublishedAt))
		metrics.ObserveNetworkRequest("sqlite", "items_insert", "items", start, err)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// ListItemsSince возвращает элементы, опубликованные не раньше since. Граница
// включается: элемент той же секунды, что и прошлый сбор, лучше отдать
// повторно, чем потерять. При непустом списке тем остаются только
// пересекающиеся по темам элементы; пересечение фильтруется в памяти, у SQLite
// нет массивов.
func (s *SQLite) ListItemsSince(ctx context.Context, since time.Time, terms []string) ([]domain.Item, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, url, body, terms, published_at
FROM items WHERE published_at >= ?
ORDER BY published_at, id
`, sqliteTime(since))
	metrics.ObserveNetworkRequest("sqlite", "items_list_since", "items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wanted := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		wanted[term] = struct{}{}
	}

	var items []domain.Item
	for rows.Next() {
		var (
			item      domain.Item
			rawTerms  string
			published string
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.URL, &item.Body, &rawTerms, &published); err != nil {
			return nil, err
		}
		item.Terms = decodeStrings(rawTerms)
		if item.PublishedAt, err = parseSQLiteTime(published); err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !overlaps(item.Terms, wanted) {
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func overlaps(terms []string, wanted map[string]struct{}) bool {
	for _, term := range terms {
		if _, ok := wanted[term]; ok {
			return true
		}
	}
	return false
}

// ListTerms возвращает словарь тем, встречающихся в сохранённых элементах.
func (s *SQLite) ListTerms(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT terms FROM items`)
	metrics.ObserveNetworkRequest("sqlite", "items_list_terms", "items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var terms []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		for _, term := range decodeStrings(raw) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(terms)
	return terms, nil
}

// CreateMessage сохраняет собранное сообщение.
func (s *SQLite) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if !msg.Status.Valid() {
		return domain.Message{}, domain.ErrInvalidStatus
	}
	now := time.Now().UTC()
	msg.StatusChanged = now
	msg.CreatedAt = now
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
`, msg.ID, msg.ChannelID, msg.SubscriptionID, msg.Address, msg.Format, msg.Subject, msg.Payload, string(msg.Status), msg.StatusMessage, sqliteTime(now), sqliteTime(now))
	metrics.ObserveNetworkRequest("sqlite", "messages_insert", "messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var (
		msg             domain.Message
		status          string
		changed, create string
	)
	if err := row.Scan(&msg.ID, &msg.ChannelID, &msg.SubscriptionID, &msg.Address, &msg.Format, &msg.Subject, &msg.Payload, &status, &msg.StatusMessage, &msg.Attempts, &changed, &create); err != nil {
		return domain.Message{}, err
	}
	msg.Status = domain.MessageStatus(status)
	var err error
	if msg.StatusChanged, err = parseSQLiteTime(changed); err != nil {
		return domain.Message{}, err
	}
	if msg.CreatedAt, err = parseSQLiteTime(create); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// GetMessage возвращает сообщение по идентификатору.
func (s *SQLite) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE id=?
`, id)
	msg, err := scanMessage(row)
	metrics.ObserveNetworkRequest("sqlite", "messages_get", "messages", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageStatus переводит сообщение в новый статус и считает попытку.
func (s *SQLite) UpdateMessageStatus(ctx context.Context, id string, status domain.MessageStatus, note string) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE messages SET status=?, status_message=?, attempts=attempts+1, status_changed=?
WHERE id=?
`, string(status), note, sqliteTime(time.Now()), id)
	metrics.ObserveNetworkRequest("sqlite", "messages_update_status", "messages", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// ListMessagesByStatus возвращает сообщения канала в данном статусе.
// channelID <= 0 снимает фильтр по каналу.
func (s *SQLite) ListMessagesByStatus(ctx context.Context, channelID int64, status domain.MessageStatus, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE status=?
ORDER BY created_at, id LIMIT ?
`
	args := []any{string(status), limit}
	if channelID > 0 {
		query = `
SELECT id, channel_id, subscription_id, address, format, subject, payload, status, status_message, attempts, status_changed, created_at
FROM messages WHERE channel_id=? AND status=?
ORDER BY created_at, id LIMIT ?
`
		args = []any{channelID, string(status), limit}
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "messages_list_by_status", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CountMessagesByStatus считает сообщения канала по статусам.
func (s *SQLite) CountMessagesByStatus(ctx context.Context, channelID int64) (map[domain.MessageStatus]int, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM messages WHERE channel_id=? GROUP BY status
`, channelID)
	metrics.ObserveNetworkRequest("sqlite", "messages_count_by_status", "messages", start, err)
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
func (s *SQLite) DeleteMessagesByStatus(ctx context.Context, channelID int64, statuses ...domain.MessageStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(statuses))
	args := []any{channelID}
	for _, status := range statuses {
		if !status.Valid() {
			return 0, domain.ErrInvalidStatus
		}
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}

	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id=? AND status IN (`+strings.Join(placeholders, ",")+`)`, args...)
	metrics.ObserveNetworkRequest("sqlite", "messages_delete_by_status", "messages", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddSent увеличивает накопительный счётчик доставленных сообщений канала.
func (s *SQLite) AddSent(ctx context.Context, channelID int64, n int) error {
	if n <= 0 {
		return nil
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO channel_counters (channel_id, sent_total) VALUES (?, ?)
ON CONFLICT (channel_id) DO UPDATE SET sent_total = sent_total + excluded.sent_total
`, channelID, n)
	metrics.ObserveNetworkRequest("sqlite", "counters_add_sent", "channel_counters", start, err)
	return err
}

// SentTotal возвращает накопительный счётчик доставленных сообщений.
func (s *SQLite) SentTotal(ctx context.Context, channelID int64) (int64, error) {
	var total int64
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `SELECT sent_total FROM channel_counters WHERE channel_id=?`, channelID).Scan(&total)
	metrics.ObserveNetworkRequest("sqlite", "counters_sent_total", "channel_counters", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}
