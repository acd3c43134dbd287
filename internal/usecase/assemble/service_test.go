package assemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

// recorder фиксирует порядок побочных эффектов прохода сборки.
type recorder struct {
	events []string
}

func (r *recorder) add(event string) {
	if r != nil {
		r.events = append(r.events, event)
	}
}

type stubChannels struct {
	channel domain.Channel
	err     error
}

func (s *stubChannels) CreateChannel(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	return ch, nil
}
func (s *stubChannels) GetChannelByName(context.Context, string) (domain.Channel, error) {
	return s.channel, s.err
}
func (s *stubChannels) ListChannels(context.Context) ([]domain.Channel, error) {
	return []domain.Channel{s.channel}, nil
}
func (s *stubChannels) SetChannelActive(context.Context, int64, bool) error { return nil }
func (s *stubChannels) UpdateTriggeredLast(context.Context, int64, time.Time) error {
	return nil
}

type stubSubs struct {
	grouped map[string][]domain.Subscription
	cues    map[int64]domain.Cue
	cueErr  error
	rec     *recorder
}

func (s *stubSubs) CreateSubscription(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	return sub, nil
}
func (s *stubSubs) GetSubscriptionBySecret(context.Context, string) (domain.Subscription, error) {
	return domain.Subscription{}, domain.ErrSubscriptionNotFound
}
func (s *stubSubs) ConfirmSubscription(context.Context, string) error { return nil }
func (s *stubSubs) DeleteSubscription(context.Context, string) error  { return nil }
func (s *stubSubs) ListSubscriptionsGrouped(context.Context, int64) (map[string][]domain.Subscription, error) {
	return s.grouped, nil
}
func (s *stubSubs) UpdateSubscriptionCue(_ context.Context, id int64, cue domain.Cue) error {
	if s.cueErr != nil {
		return s.cueErr
	}
	if s.cues == nil {
		s.cues = map[int64]domain.Cue{}
	}
	s.cues[id] = cue
	s.rec.add("cue")
	return nil
}

type stubMessages struct {
	created   []domain.Message
	createErr error
	rec       *recorder
}

func (s *stubMessages) CreateMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	if s.createErr != nil {
		return domain.Message{}, s.createErr
	}
	s.created = append(s.created, msg)
	s.rec.add("message")
	return msg, nil
}
func (s *stubMessages) GetMessage(context.Context, string) (domain.Message, error) {
	return domain.Message{}, domain.ErrMessageNotFound
}
func (s *stubMessages) UpdateMessageStatus(context.Context, string, domain.MessageStatus, string) error {
	return nil
}
func (s *stubMessages) ListMessagesByStatus(context.Context, int64, domain.MessageStatus, int) ([]domain.Message, error) {
	return nil, nil
}
func (s *stubMessages) CountMessagesByStatus(context.Context, int64) (map[domain.MessageStatus]int, error) {
	return nil, nil
}
func (s *stubMessages) DeleteMessagesByStatus(context.Context, int64, ...domain.MessageStatus) (int64, error) {
	return 0, nil
}
func (s *stubMessages) AddSent(context.Context, int64, int) error       { return nil }
func (s *stubMessages) SentTotal(context.Context, int64) (int64, error) { return 0, nil }

type stubQueue struct {
	jobs       []domain.DispatchJob
	enqueueErr error
	rec        *recorder
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.DispatchJob) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.jobs = append(s.jobs, job)
	s.rec.add("enqueue")
	return nil
}
func (s *stubQueue) Receive(context.Context) (domain.DispatchJob, domain.DispatchAckFunc, error) {
	return domain.DispatchJob{}, nil, errors.New("в тестах не используется")
}

// fakeCollector отдаёт заготовленные элементы. Пустой nextCue означает
// «вернуть входной курсор без изменений».
type fakeCollector struct {
	items   []domain.Item
	nextCue domain.Cue
	err     error
	calls   []domain.Subscription
}

func (f *fakeCollector) GetItems(_ context.Context, cue domain.Cue, sub domain.Subscription) ([]domain.Item, domain.Cue, error) {
	f.calls = append(f.calls, sub)
	if f.err != nil {
		return nil, "", f.err
	}
	next := f.nextCue
	if next == "" {
		next = cue
	}
	return f.items, next, nil
}

type fakeComposer struct {
	err      error
	rendered [][]domain.Item
}

func (f *fakeComposer) Render(_ context.Context, sub domain.Subscription, items []domain.Item) (domain.Message, error) {
	if f.err != nil {
		return domain.Message{}, f.err
	}
	f.rendered = append(f.rendered, items)
	return domain.Message{Format: sub.Format, Subject: "выпуск", Payload: []byte("тело")}, nil
}

func testChannel() domain.Channel {
	return domain.Channel{ID: 7, Name: "news", Formats: []string{"plain"}, CollectorName: "terms", Active: true}
}

func TestAssembleRendersAndQueues(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 1, ChannelID: 7, Address: "user@example.com", Format: "plain", Cue: "старый"}
	collector := &fakeCollector{items: []domain.Item{{ID: "a"}}, nextCue: "новый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	msgs := &stubMessages{}
	queue := &stubQueue{}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, queue,
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	report, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Rendered != 1 {
		t.Fatalf("ожидали 1 отрендеренное сообщение, получили %d", report.Rendered)
	}
	if len(msgs.created) != 1 {
		t.Fatalf("ожидали 1 сохранённое сообщение")
	}
	msg := msgs.created[0]
	if msg.ID == "" {
		t.Fatalf("ожидали присвоенный идентификатор сообщения")
	}
	if msg.Status != domain.StatusNew {
		t.Fatalf("ожидали статус new, получили %q", msg.Status)
	}
	if msg.ChannelID != 7 || msg.SubscriptionID != 1 || msg.Address != sub.Address {
		t.Fatalf("ожидали заполненную принадлежность сообщения: %+v", msg)
	}
	if subs.cues[1] != "новый" {
		t.Fatalf("ожидали продвинутый курсор, получили %q", subs.cues[1])
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали 1 задачу в очереди")
	}
	if queue.jobs[0].MessageID != msg.ID {
		t.Fatalf("ожидали задачу на сообщение %s, получили %s", msg.ID, queue.jobs[0].MessageID)
	}
	if queue.jobs[0].Cause != domain.DispatchCauseScheduled {
		t.Fatalf("ожидали причину scheduled")
	}
}

func TestAssembleSkipsPending(t *testing.T) {
	ch := testChannel()
	pending := domain.Subscription{ID: 2, ChannelID: 7, Address: "wait@example.com", Format: "plain", Pending: true, Cue: "старый"}
	collector := &fakeCollector{items: []domain.Item{{ID: "a"}}, nextCue: "новый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{pending.Address: {pending}}}
	msgs := &stubMessages{}
	queue := &stubQueue{}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, queue,
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	report, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Pending != 1 || report.Rendered != 0 {
		t.Fatalf("ожидали пропуск неподтверждённой подписки: %+v", report)
	}
	if len(collector.calls) != 0 {
		t.Fatalf("коллектор не должен вызываться для неподтверждённой подписки")
	}
	if len(subs.cues) != 0 {
		t.Fatalf("курсор неподтверждённой подписки не должен меняться")
	}
}

func TestAssembleSuppressesEmptySelection(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 3, ChannelID: 7, Address: "user@example.com", Format: "plain", Cue: "старый"}
	collector := &fakeCollector{nextCue: "новый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	msgs := &stubMessages{}
	queue := &stubQueue{}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, queue,
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	report, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Suppressed != 1 || report.Rendered != 0 {
		t.Fatalf("ожидали подавленный выпуск: %+v", report)
	}
	if len(msgs.created) != 0 || len(queue.jobs) != 0 {
		t.Fatalf("пустая выборка не должна порождать сообщение")
	}
	if subs.cues[3] != "новый" {
		t.Fatalf("курсор должен продвинуться даже при пустой выборке, получили %q", subs.cues[3])
	}
}

func TestAssembleEmptyKeepsUnchangedCue(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 4, ChannelID: 7, Address: "user@example.com", Format: "plain", Cue: "старый"}
	collector := &fakeCollector{}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	svc := NewService(&stubChannels{channel: ch}, subs, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	if _, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(subs.cues) != 0 {
		t.Fatalf("неизменный курсор не должен перезаписываться")
	}
}

func TestAssembleOrdersSideEffects(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 5, ChannelID: 7, Address: "user@example.com", Format: "plain", Cue: "старый"}
	rec := &recorder{}
	collector := &fakeCollector{items: []domain.Item{{ID: "a"}}, nextCue: "новый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}, rec: rec}
	msgs := &stubMessages{rec: rec}
	queue := &stubQueue{rec: rec}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, queue,
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	if _, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseManual); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"message", "cue", "enqueue"}
	if len(rec.events) != len(want) {
		t.Fatalf("ожидали события %v, получили %v", want, rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("ожидали события %v, получили %v", want, rec.events)
		}
	}
}

func TestAssembleUnknownCollector(t *testing.T) {
	ch := testChannel()
	ch.CollectorName = "нет-такого"
	svc := NewService(&stubChannels{channel: ch}, &stubSubs{}, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{}, map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	_, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if !errors.Is(err, ErrCollectorNotFound) {
		t.Fatalf("ожидали ErrCollectorNotFound, получили %v", err)
	}
}

func TestAssembleRejectsUnsupportedFormat(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 6, ChannelID: 7, Address: "user@example.com", Format: "html", Cue: ""}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	svc := NewService(&stubChannels{channel: ch}, subs, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{"terms": &fakeCollector{}},
		map[string]domain.Composer{"plain": &fakeComposer{}, "html": &fakeComposer{}}, zerolog.Nop())

	_, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("ожидали ErrFormatUnsupported, получили %v", err)
	}
}

func TestAssembleMissingComposer(t *testing.T) {
	ch := testChannel()
	ch.Formats = []string{"plain", "html"}
	sub := domain.Subscription{ID: 7, ChannelID: 7, Address: "user@example.com", Format: "html"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	svc := NewService(&stubChannels{channel: ch}, subs, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{"terms": &fakeCollector{}},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	_, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if !errors.Is(err, ErrComposerNotFound) {
		t.Fatalf("ожидали ErrComposerNotFound, получили %v", err)
	}
}

func TestAssembleWithoutCollectorRenders(t *testing.T) {
	ch := testChannel()
	ch.CollectorName = ""
	sub := domain.Subscription{ID: 8, ChannelID: 7, Address: "user@example.com", Format: "plain"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	msgs := &stubMessages{}
	composer := &fakeComposer{}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, &stubQueue{},
		map[string]domain.Collector{}, map[string]domain.Composer{"plain": composer}, zerolog.Nop())

	report, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Rendered != 1 {
		t.Fatalf("канал без коллектора должен рендериться, получили %+v", report)
	}
	if len(composer.rendered) != 1 || len(composer.rendered[0]) != 0 {
		t.Fatalf("рендер без коллектора должен получить пустой список элементов")
	}
}

func TestAssembleEnqueueFailureKeepsMessage(t *testing.T) {
	ch := testChannel()
	sub := domain.Subscription{ID: 9, ChannelID: 7, Address: "user@example.com", Format: "plain", Cue: "старый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{sub.Address: {sub}}}
	msgs := &stubMessages{}
	queue := &stubQueue{enqueueErr: errors.New("брокер недоступен")}
	svc := NewService(&stubChannels{channel: ch}, subs, msgs, queue,
		map[string]domain.Collector{"terms": &fakeCollector{items: []domain.Item{{ID: "a"}}, nextCue: "новый"}},
		map[string]domain.Composer{"plain": &fakeComposer{}}, zerolog.Nop())

	_, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if err == nil {
		t.Fatalf("ожидали ошибку постановки в очередь")
	}
	if len(msgs.created) != 1 {
		t.Fatalf("сообщение должно остаться сохранённым для обхода очереди")
	}
	if subs.cues[9] != "новый" {
		t.Fatalf("курсор должен быть продвинут до постановки в очередь")
	}
}

func TestAssembleStopsOnFirstError(t *testing.T) {
	ch := testChannel()
	first := domain.Subscription{ID: 10, ChannelID: 7, Address: "a@example.com", Format: "plain"}
	second := domain.Subscription{ID: 11, ChannelID: 7, Address: "b@example.com", Format: "plain"}
	collector := &fakeCollector{items: []domain.Item{{ID: "a"}}, nextCue: "новый"}
	subs := &stubSubs{grouped: map[string][]domain.Subscription{
		first.Address:  {first},
		second.Address: {second},
	}}
	composer := &fakeComposer{err: errors.New("рендер сломан")}
	svc := NewService(&stubChannels{channel: ch}, subs, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{"terms": collector},
		map[string]domain.Composer{"plain": composer}, zerolog.Nop())

	_, err := svc.Assemble(context.Background(), ch, domain.DispatchCauseScheduled)
	if err == nil {
		t.Fatalf("ожидали ошибку рендера")
	}
	if len(collector.calls) != 1 {
		t.Fatalf("проход должен остановиться на первой ошибке, вызовов коллектора: %d", len(collector.calls))
	}
}

func TestAssembleByNameUnknownChannel(t *testing.T) {
	svc := NewService(&stubChannels{err: domain.ErrChannelNotFound}, &stubSubs{}, &stubMessages{}, &stubQueue{},
		map[string]domain.Collector{}, map[string]domain.Composer{}, zerolog.Nop())

	_, err := svc.AssembleByName(context.Background(), "нет", domain.DispatchCauseManual)
	if !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("ожидали ErrChannelNotFound, получили %v", err)
	}
}
