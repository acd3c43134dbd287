// Package composer содержит рендеры сообщений рассылки по форматам.
// Каждый рендер заполняет содержимое сообщения: формат, тему и полезную
// нагрузку. Идентичность сообщения проставляет сборщик.
package composer

import (
	"strings"

	"newsletter-engine/internal/domain"
)

// capItems отделяет показываемые элементы от скрытых за лимитом.
// max <= 0 означает отсутствие лимита.
func capItems(items []domain.Item, max int) ([]domain.Item, int) {
	if max <= 0 || len(items) <= max {
		return items, 0
	}
	return items[:max], len(items) - max
}

// snippet усечённо возвращает текст тела элемента одной строкой.
func snippet(body string, limit int) string {
	flat := strings.Join(strings.Fields(body), " ")
	runes := []rune(flat)
	if len(runes) <= limit {
		return flat
	}
	return string(runes[:limit-1]) + "…"
}

func baseMessage(sub domain.Subscription, format, subject string, payload []byte) domain.Message {
	return domain.Message{
		SubscriptionID: sub.ID,
		Address:        sub.Address,
		Format:         format,
		Subject:        subject,
		Payload:        payload,
	}
}
