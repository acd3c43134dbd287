package dispatcher

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
)

func TestTelegramDispatchRejectsBadAddress(t *testing.T) {
	d := NewTelegram(nil, zerolog.Nop())
	status, note, err := d.Dispatch(context.Background(), domain.Message{
		Address: "user@example.com",
		Payload: []byte("текст"),
	})
	if err != nil {
		t.Fatalf("кривой адрес — постоянная неудача, а не ошибка: %v", err)
	}
	if status != domain.StatusError {
		t.Fatalf("ожидали error, получили %s", status)
	}
	if note == "" {
		t.Fatalf("ожидали пояснение про адрес")
	}
}

func TestTelegramDispatchSkipsEmptyPayload(t *testing.T) {
	d := NewTelegram(nil, zerolog.Nop())
	status, note, err := d.Dispatch(context.Background(), domain.Message{
		Address: "42",
		Payload: []byte("   \n "),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status != domain.StatusSent {
		t.Fatalf("пустое сообщение считается доставленным, получили %s %q", status, note)
	}
}

func TestLogDispatchAlwaysDelivers(t *testing.T) {
	d := NewLog(zerolog.Nop())
	status, note, err := d.Dispatch(context.Background(), domain.Message{ID: "m1", Address: "42"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status != domain.StatusSent || note != "" {
		t.Fatalf("журнальный доставщик всегда отвечает sent, получили %s %q", status, note)
	}
}
