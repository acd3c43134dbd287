package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/db"
)

func newTestRepo(t *testing.T) *SQLite {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("не удалось открыть БД: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	s, err := NewSQLite(conn)
	if err != nil {
		t.Fatalf("не удалось применить схему: %v", err)
	}
	return s
}

func mustChannel(t *testing.T, s *SQLite, name string) domain.Channel {
	t.Helper()
	ch, err := s.CreateChannel(context.Background(), domain.Channel{
		Name:          name,
		Title:         "Тестовый канал",
		CollectorName: "terms",
		Formats:       []string{"plain", "html"},
		SchedulerKind: domain.SchedulerDaily,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("не удалось создать канал: %v", err)
	}
	return ch
}

func mustSubscription(t *testing.T, s *SQLite, channelID int64, secret, address, format string) domain.Subscription {
	t.Helper()
	sub, err := s.CreateSubscription(context.Background(), domain.Subscription{
		ChannelID: channelID,
		Secret:    secret,
		Address:   address,
		Format:    format,
		Pending:   true,
		Selection: []string{"go", "linux"},
		Cue:       "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("не удалось создать подписку: %v", err)
	}
	return sub
}

func mustMessage(t *testing.T, s *SQLite, id string, channelID int64, status domain.MessageStatus) domain.Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), domain.Message{
		ID:        id,
		ChannelID: channelID,
		Address:   "box@example.org",
		Format:    "plain",
		Subject:   "Выпуск",
		Payload:   []byte("тело выпуска"),
		Status:    status,
	})
	if err != nil {
		t.Fatalf("не удалось создать сообщение: %v", err)
	}
	return msg
}

func TestSQLiteChannelRoundtrip(t *testing.T) {
	s := newTestRepo(t)
	created := mustChannel(t, s, "news")
	if created.ID == 0 {
		t.Fatalf("ожидали присвоенный идентификатор")
	}

	got, err := s.GetChannelByName(context.Background(), "news")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ID != created.ID || got.Title != "Тестовый канал" || got.CollectorName != "terms" {
		t.Fatalf("канал вернулся искажённым: %+v", got)
	}
	if len(got.Formats) != 2 || got.Formats[0] != "plain" || got.Formats[1] != "html" {
		t.Fatalf("ожидали форматы в исходном порядке, получили %v", got.Formats)
	}
	if got.SchedulerKind != domain.SchedulerDaily || !got.Active {
		t.Fatalf("расписание или активность потерялись: %+v", got)
	}
	if !got.TriggeredLast.IsZero() {
		t.Fatalf("канал ещё не срабатывал, получили %v", got.TriggeredLast)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("время создания должно сохраняться")
	}
}

func TestSQLiteChannelNameConflict(t *testing.T) {
	s := newTestRepo(t)
	mustChannel(t, s, "news")
	_, err := s.CreateChannel(context.Background(), domain.Channel{Name: "news", Formats: []string{"plain"}})
	if !errors.Is(err, domain.ErrChannelExists) {
		t.Fatalf("ожидали ErrChannelExists, получили %v", err)
	}
}

func TestSQLiteChannelNotFound(t *testing.T) {
	s := newTestRepo(t)
	if _, err := s.GetChannelByName(context.Background(), "нет"); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("ожидали ErrChannelNotFound, получили %v", err)
	}
	if err := s.SetChannelActive(context.Background(), 9000, true); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("ожидали ErrChannelNotFound при переключении, получили %v", err)
	}
}

func TestSQLiteSetChannelActive(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")

	if err := s.SetChannelActive(context.Background(), ch.ID, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.GetChannelByName(context.Background(), "news")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Active {
		t.Fatalf("канал должен быть выключен")
	}
}

func TestSQLiteUpdateTriggeredLast(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	triggered := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	if err := s.UpdateTriggeredLast(context.Background(), ch.ID, triggered); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.GetChannelByName(context.Background(), "news")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.TriggeredLast.Equal(triggered) {
		t.Fatalf("ожидали %v, получили %v", triggered, got.TriggeredLast)
	}
}

func TestSQLiteListChannels(t *testing.T) {
	s := newTestRepo(t)
	mustChannel(t, s, "news")
	mustChannel(t, s, "weekly")

	channels, err := s.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "news" || channels[1].Name != "weekly" {
		t.Fatalf("ожидали каналы в порядке создания, получили %+v", channels)
	}
}

func TestSQLiteSubscriptionRoundtrip(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	created := mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")
	if created.ID == 0 {
		t.Fatalf("ожидали присвоенный идентификатор")
	}

	got, err := s.GetSubscriptionBySecret(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ChannelID != ch.ID || got.Address != "box@example.org" || got.Format != "plain" {
		t.Fatalf("подписка вернулась искажённой: %+v", got)
	}
	if !got.Pending {
		t.Fatalf("новая подписка должна ждать подтверждения")
	}
	if len(got.Selection) != 2 || got.Selection[0] != "go" || got.Selection[1] != "linux" {
		t.Fatalf("выбор тем потерялся: %v", got.Selection)
	}
	if got.Cue != "2026-01-01T00:00:00Z" {
		t.Fatalf("курсор потерялся: %q", got.Cue)
	}
}

func TestSQLiteSubscriptionConflict(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")

	_, err := s.CreateSubscription(context.Background(), domain.Subscription{
		ChannelID: ch.ID, Secret: "s-2", Address: "box@example.org", Format: "plain",
	})
	if !errors.Is(err, domain.ErrAlreadySubscribed) {
		t.Fatalf("ожидали ErrAlreadySubscribed, получили %v", err)
	}
	// Тот же адресат в другом формате — отдельная подписка.
	mustSubscription(t, s, ch.ID, "s-3", "box@example.org", "html")
}

func TestSQLiteConfirmSubscription(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")

	if err := s.ConfirmSubscription(context.Background(), "s-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.GetSubscriptionBySecret(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Pending {
		t.Fatalf("подтверждённая подписка не должна числиться ожидающей")
	}
	if err := s.ConfirmSubscription(context.Background(), "нет"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("ожидали ErrSubscriptionNotFound, получили %v", err)
	}
}

func TestSQLiteDeleteSubscription(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")

	if err := s.DeleteSubscription(context.Background(), "s-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := s.GetSubscriptionBySecret(context.Background(), "s-1"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("ожидали ErrSubscriptionNotFound после удаления, получили %v", err)
	}
	if err := s.DeleteSubscription(context.Background(), "s-1"); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("повторное удаление должно сообщать об отсутствии, получили %v", err)
	}
}

func TestSQLiteSubscriptionsGrouped(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	other := mustChannel(t, s, "weekly")
	mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")
	mustSubscription(t, s, ch.ID, "s-2", "box@example.org", "html")
	mustSubscription(t, s, ch.ID, "s-3", "dev@example.org", "plain")
	mustSubscription(t, s, other.ID, "s-4", "box@example.org", "plain")

	grouped, err := s.ListSubscriptionsGrouped(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(grouped) != 2 {
		t.Fatalf("ожидали два адресата, получили %d", len(grouped))
	}
	box := grouped["box@example.org"]
	if len(box) != 2 || box[0].Format != "plain" || box[1].Format != "html" {
		t.Fatalf("группа адресата собрана неверно: %+v", box)
	}
	if len(grouped["dev@example.org"]) != 1 {
		t.Fatalf("второй адресат должен иметь одну подписку")
	}
}

func TestSQLiteUpdateSubscriptionCue(t *testing.T) {
	s := newTestRepo(t)
	ch := mustChannel(t, s, "news")
	sub := mustSubscription(t, s, ch.ID, "s-1", "box@example.org", "plain")

	if err := s.UpdateSubscriptionCue(context.Background(), sub.ID, "2026-02-02T10:00:00Z"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.GetSubscriptionBySecret(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Cue != "2026-02-02T10:00:00Z" {
		t.Fatalf("курсор не продвинулся: %q", got.Cue)
	}
}

func TestSQLiteSaveItemsIgnoresDuplicates(t *testing.T) {
	s := newTestRepo(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	n, err := s.SaveItems(context.Background(), []domain.Item{
		{ID: "a", Title: "Первый", Terms: []string{"go"}, PublishedAt: base},
		{ID: "b", Title: "Второй", Terms: []string{"linux"}, PublishedAt: base},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 2 {
		t.Fatalf("ожидали 2 новых элемента, получили %d", n)
	}

	n, err = s.SaveItems(context.Background(), []domain.Item{
		{ID: "b", Title: "Повтор", PublishedAt: base},
		{ID: "c", Title: "Третий", PublishedAt: base},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 1 {
		t.Fatalf("повтор не должен считаться новым, получили %d", n)
	}

	if n, err = s.SaveItems(context.Background(), nil); err != nil || n != 0 {
		t.Fatalf("пустой список должен быть пустой операцией, получили %d, %v", n, err)
	}
}

func TestSQLiteListItemsSince(t *testing.T) {
	s := newTestRepo(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.SaveItems(context.Background(), []domain.Item{
		{ID: "a", Title: "Старый", Terms: []string{"go"}, PublishedAt: base.Add(-time.Hour)},
		{ID: "b", Title: "Граничный", Terms: []string{"go"}, PublishedAt: base},
		{ID: "c", Title: "Свежий", Terms: []string{"linux"}, PublishedAt: base.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("не удалось сохранить элементы: %v", err)
	}

	got, err := s.ListItemsSince(context.Background(), base, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Граница включается: элемент, опубликованный ровно в момент прошлого
	// сбора, отдаётся повторно, а не теряется.
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("ожидали граничный и свежий элементы, получили %+v", got)
	}
	if !got[0].PublishedAt.Equal(base) {
		t.Fatalf("время публикации вернулось искажённым: %v", got[0].PublishedAt)
	}

	got, err = s.ListItemsSince(context.Background(), base, []string{"go"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("фильтр по темам должен оставить один элемент, получили %+v", got)
	}

	got, err = s.ListItemsSince(context.Background(), base.Add(2*time.Hour), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("будущая граница должна давать пустую выборку, получили %+v", got)
	}
}

func TestSQLiteListTerms(t *testing.T) {
	s := newTestRepo(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.SaveItems(context.Background(), []domain.Item{
		{ID: "a", Title: "Первый", Terms: []string{"go", "linux"}, PublishedAt: base},
		{ID: "b", Title: "Второй", Terms: []string{"go", "devops"}, PublishedAt: base},
		{ID: "c", Title: "Без тем", PublishedAt: base},
	}); err != nil {
		t.Fatalf("не удалось сохранить элементы: %v", err)
	}

	terms, err := s.ListTerms(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"devops", "go", "linux"}
	if len(terms) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, terms)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, terms)
		}
	}
}

func TestSQLiteMessageRoundtrip(t *testing.T) {
	s := newTestRepo(t)
	mustMessage(t, s, "m1", 3, domain.StatusNew)

	got, err := s.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.ChannelID != 3 || got.Address != "box@example.org" || got.Format != "plain" {
		t.Fatalf("сообщение вернулось искажённым: %+v", got)
	}
	if string(got.Payload) != "тело выпуска" {
		t.Fatalf("тело потерялось: %q", got.Payload)
	}
	if got.Status != domain.StatusNew || got.Attempts != 0 {
		t.Fatalf("новое сообщение должно быть без попыток: %+v", got)
	}
	if got.StatusChanged.IsZero() || got.CreatedAt.IsZero() {
		t.Fatalf("временные отметки должны сохраняться")
	}
}

func TestSQLiteCreateMessageInvalidStatus(t *testing.T) {
	s := newTestRepo(t)
	_, err := s.CreateMessage(context.Background(), domain.Message{ID: "m1", Status: "мусор"})
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("ожидали ErrInvalidStatus, получили %v", err)
	}
}

func TestSQLiteUpdateMessageStatus(t *testing.T) {
	s := newTestRepo(t)
	mustMessage(t, s, "m1", 3, domain.StatusNew)

	if err := s.UpdateMessageStatus(context.Background(), "m1", domain.StatusRetry, "flood wait"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := s.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.StatusRetry || got.StatusMessage != "flood wait" {
		t.Fatalf("статус не обновился: %+v", got)
	}
	if got.Attempts != 1 {
		t.Fatalf("смена статуса должна считать попытку, получили %d", got.Attempts)
	}

	if err := s.UpdateMessageStatus(context.Background(), "m1", domain.StatusSent, ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ = s.GetMessage(context.Background(), "m1")
	if got.Attempts != 2 {
		t.Fatalf("попытки должны накапливаться, получили %d", got.Attempts)
	}

	if err := s.UpdateMessageStatus(context.Background(), "нет", domain.StatusSent, ""); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("ожидали ErrMessageNotFound, получили %v", err)
	}
	if err := s.UpdateMessageStatus(context.Background(), "m1", "мусор", ""); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("ожидали ErrInvalidStatus, получили %v", err)
	}
}

func TestSQLiteListMessagesByStatus(t *testing.T) {
	s := newTestRepo(t)
	mustMessage(t, s, "m1", 3, domain.StatusNew)
	mustMessage(t, s, "m2", 3, domain.StatusSent)
	mustMessage(t, s, "m3", 4, domain.StatusNew)

	got, err := s.ListMessagesByStatus(context.Background(), 3, domain.StatusNew, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("фильтр по каналу должен оставить m1, получили %+v", got)
	}

	got, err = s.ListMessagesByStatus(context.Background(), 0, domain.StatusNew, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("без канала ожидали оба новых сообщения, получили %+v", got)
	}

	got, err = s.ListMessagesByStatus(context.Background(), 0, domain.StatusNew, 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ограничение выборки не сработало, получили %d", len(got))
	}
}

func TestSQLiteCountMessagesByStatus(t *testing.T) {
	s := newTestRepo(t)
	mustMessage(t, s, "m1", 3, domain.StatusNew)
	mustMessage(t, s, "m2", 3, domain.StatusNew)
	mustMessage(t, s, "m3", 3, domain.StatusSent)
	mustMessage(t, s, "m4", 4, domain.StatusError)

	counts, err := s.CountMessagesByStatus(context.Background(), 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if counts[domain.StatusNew] != 2 || counts[domain.StatusSent] != 1 {
		t.Fatalf("подсчёт по статусам неверен: %+v", counts)
	}
	if _, ok := counts[domain.StatusError]; ok {
		t.Fatalf("чужой канал не должен попадать в подсчёт: %+v", counts)
	}
}

func TestSQLiteDeleteMessagesByStatus(t *testing.T) {
	s := newTestRepo(t)
	mustMessage(t, s, "m1", 3, domain.StatusSent)
	mustMessage(t, s, "m2", 3, domain.StatusError)
	mustMessage(t, s, "m3", 3, domain.StatusNew)
	mustMessage(t, s, "m4", 4, domain.StatusSent)

	removed, err := s.DeleteMessagesByStatus(context.Background(), 3, domain.StatusSent, domain.StatusError)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if removed != 2 {
		t.Fatalf("ожидали 2 удалённых, получили %d", removed)
	}
	if _, err := s.GetMessage(context.Background(), "m1"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("m1 должно быть удалено, получили %v", err)
	}
	if _, err := s.GetMessage(context.Background(), "m3"); err != nil {
		t.Fatalf("необработанное сообщение должно остаться: %v", err)
	}
	if _, err := s.GetMessage(context.Background(), "m4"); err != nil {
		t.Fatalf("чужой канал не должен затрагиваться: %v", err)
	}

	if n, err := s.DeleteMessagesByStatus(context.Background(), 3); err != nil || n != 0 {
		t.Fatalf("без статусов очистка пустая, получили %d, %v", n, err)
	}
	if _, err := s.DeleteMessagesByStatus(context.Background(), 3, "мусор"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("ожидали ErrInvalidStatus, получили %v", err)
	}
}

func TestSQLiteSentCounter(t *testing.T) {
	s := newTestRepo(t)

	total, err := s.SentTotal(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if total != 0 {
		t.Fatalf("счётчик без записей должен быть нулевым, получили %d", total)
	}

	if err := s.AddSent(context.Background(), 5, 3); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.AddSent(context.Background(), 5, 2); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.AddSent(context.Background(), 5, 0); err != nil {
		t.Fatalf("нулевое приращение должно быть пустой операцией: %v", err)
	}
	total, err = s.SentTotal(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if total != 5 {
		t.Fatalf("ожидали накопленные 5, получили %d", total)
	}

	// Очистка сообщений не трогает накопительный счётчик.
	mustMessage(t, s, "m1", 5, domain.StatusSent)
	if _, err := s.DeleteMessagesByStatus(context.Background(), 5, domain.StatusSent); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	total, err = s.SentTotal(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if total != 5 {
		t.Fatalf("счётчик должен пережить очистку, получили %d", total)
	}
}
