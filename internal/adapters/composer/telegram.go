package composer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"newsletter-engine/internal/domain"
)

// Telegram рендерит выпуск в HTML-разметке Telegram.
type Telegram struct {
	title    string
	maxItems int
}

var _ domain.Composer = (*Telegram)(nil)

// NewTelegram создаёт рендер для отправки ботом.
func NewTelegram(title string, maxItems int) *Telegram {
	if title == "" {
		title = "Рассылка"
	}
	return &Telegram{title: title, maxItems: maxItems}
}

// Render реализует domain.Composer.
func (t *Telegram) Render(ctx context.Context, sub domain.Subscription, items []domain.Item) (domain.Message, error) {
	shown, hidden := capItems(items, t.maxItems)
	subject := fmt.Sprintf("%s: выпуск от %s", t.title, time.Now().Format("02.01.2006"))

	var sections []string
	sections = append(sections, "📰 <b>"+html.EscapeString(t.title)+"</b>")

	if len(shown) == 0 {
		sections = append(sections, "Новых материалов в этом выпуске нет.")
	} else {
		var b strings.Builder
		for i, item := range shown {
			if i > 0 {
				b.WriteString("\n")
			}
			title := html.EscapeString(item.Title)
			if url := strings.TrimSpace(item.URL); url != "" {
				b.WriteString(fmt.Sprintf("• <a href=\"%s\">%s</a>", html.EscapeString(url), title))
			} else {
				b.WriteString("• " + title)
			}
			if body := snippet(item.Body, 160); body != "" && body != item.Title {
				b.WriteString(" — " + html.EscapeString(body))
			}
		}
		sections = append(sections, b.String())
		if hidden > 0 {
			sections = append(sections, fmt.Sprintf("…и ещё %d материалов.", hidden))
		}
	}

	text := strings.TrimSpace(strings.Join(sections, "\n\n"))
	return baseMessage(sub, "telegram", subject, []byte(text)), nil
}
