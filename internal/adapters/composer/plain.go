package composer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newsletter-engine/internal/domain"
)

// Plain рендерит выпуск простым текстом.
type Plain struct {
	title    string
	maxItems int
}

var _ domain.Composer = (*Plain)(nil)

// NewPlain создаёт текстовый рендер.
func NewPlain(title string, maxItems int) *Plain {
	if title == "" {
		title = "Рассылка"
	}
	return &Plain{title: title, maxItems: maxItems}
}

// Render реализует domain.Composer.
func (p *Plain) Render(ctx context.Context, sub domain.Subscription, items []domain.Item) (domain.Message, error) {
	shown, hidden := capItems(items, p.maxItems)
	subject := fmt.Sprintf("%s: выпуск от %s", p.title, time.Now().Format("02.01.2006"))

	var b strings.Builder
	b.WriteString(p.title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(p.title))) + "\n\n")

	if len(shown) == 0 {
		b.WriteString("Новых материалов в этом выпуске нет.\n")
	} else {
		for _, item := range shown {
			b.WriteString("- " + item.Title + "\n")
			if body := snippet(item.Body, 200); body != "" {
				b.WriteString("  " + body + "\n")
			}
			if url := strings.TrimSpace(item.URL); url != "" {
				b.WriteString("  " + url + "\n")
			}
			b.WriteString("\n")
		}
		if hidden > 0 {
			b.WriteString(fmt.Sprintf("…и ещё %d материалов.\n", hidden))
		}
	}

	return baseMessage(sub, "plain", subject, []byte(b.String())), nil
}
