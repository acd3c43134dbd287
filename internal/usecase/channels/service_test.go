package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

type stubRepo struct {
	created   []domain.Channel
	byName    map[string]domain.Channel
	active    map[int64]bool
	createErr error
}

func (s *stubRepo) CreateChannel(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	if s.createErr != nil {
		return domain.Channel{}, s.createErr
	}
	ch.ID = int64(len(s.created) + 1)
	s.created = append(s.created, ch)
	return ch, nil
}
func (s *stubRepo) GetChannelByName(_ context.Context, name string) (domain.Channel, error) {
	ch, ok := s.byName[name]
	if !ok {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	return ch, nil
}
func (s *stubRepo) ListChannels(context.Context) ([]domain.Channel, error) { return s.created, nil }
func (s *stubRepo) SetChannelActive(_ context.Context, id int64, active bool) error {
	if s.active == nil {
		s.active = map[int64]bool{}
	}
	s.active[id] = active
	return nil
}
func (s *stubRepo) UpdateTriggeredLast(context.Context, int64, time.Time) error { return nil }

type noopCollector struct{}

func (noopCollector) GetItems(_ context.Context, cue domain.Cue, _ domain.Subscription) ([]domain.Item, domain.Cue, error) {
	return nil, cue, nil
}

type noopComposer struct{}

func (noopComposer) Render(context.Context, domain.Subscription, []domain.Item) (domain.Message, error) {
	return domain.Message{}, nil
}

func newTestService(repo *stubRepo) *Service {
	return NewService(repo,
		map[string]domain.Collector{"terms": noopCollector{}},
		map[string]domain.Composer{"plain": noopComposer{}, "html": noopComposer{}},
		zerolog.Nop())
}

func TestRegisterNormalizes(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo)

	created, err := svc.Register(context.Background(), domain.Channel{
		Name:          "  Weekly-News ",
		CollectorName: "terms",
		Formats:       []string{"plain"},
		SchedulerKind: domain.SchedulerWeekly,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created.Name != "weekly-news" {
		t.Fatalf("имя должно приводиться к нижнему регистру, получили %q", created.Name)
	}
	if created.Title != "weekly-news" {
		t.Fatalf("пустой заголовок замещается именем, получили %q", created.Title)
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name    string
		channel domain.Channel
		want    error
	}{
		{"слишком короткое имя", domain.Channel{Name: "a", Formats: []string{"plain"}}, ErrNameInvalid},
		{"недопустимые символы", domain.Channel{Name: "про новости", Formats: []string{"plain"}}, ErrNameInvalid},
		{"без форматов", domain.Channel{Name: "news"}, ErrNoFormats},
		{"незарегистрированный формат", domain.Channel{Name: "news", Formats: []string{"pdf"}}, ErrFormatUnregistered},
		{"незарегистрированный коллектор", domain.Channel{Name: "news", Formats: []string{"plain"}, CollectorName: "нет"}, ErrCollectorUnregistered},
		{"неизвестное расписание", domain.Channel{Name: "news", Formats: []string{"plain"}, SchedulerKind: "hourly"}, ErrSchedulerUnknown},
	}
	svc := newTestService(&stubRepo{})
	for _, tc := range cases {
		if _, err := svc.Register(context.Background(), tc.channel); !errors.Is(err, tc.want) {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, err)
		}
	}
}

func TestRegisterWithoutCollector(t *testing.T) {
	svc := newTestService(&stubRepo{})
	created, err := svc.Register(context.Background(), domain.Channel{
		Name:    "manual",
		Formats: []string{"plain"},
	})
	if err != nil {
		t.Fatalf("канал без коллектора допустим: %v", err)
	}
	if created.CollectorName != "" {
		t.Fatalf("коллектор не должен появляться из ниоткуда")
	}
}

func TestRegisterPropagatesConflict(t *testing.T) {
	repo := &stubRepo{createErr: domain.ErrChannelExists}
	svc := newTestService(repo)
	if _, err := svc.Register(context.Background(), domain.Channel{Name: "news", Formats: []string{"plain"}}); !errors.Is(err, domain.ErrChannelExists) {
		t.Fatalf("ожидали ErrChannelExists, получили %v", err)
	}
}

func TestSetActive(t *testing.T) {
	repo := &stubRepo{byName: map[string]domain.Channel{"news": {ID: 4, Name: "news"}}}
	svc := newTestService(repo)

	if err := svc.SetActive(context.Background(), "news", true); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !repo.active[4] {
		t.Fatalf("ожидали включение канала 4")
	}
	if err := svc.SetActive(context.Background(), "нет", true); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("ожидали ErrChannelNotFound, получили %v", err)
	}
}
