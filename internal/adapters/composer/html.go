package composer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"newsletter-engine/internal/domain"
)

// HTML рендерит выпуск в HTML-письмо.
type HTML struct {
	title    string
	maxItems int
}

var _ domain.Composer = (*HTML)(nil)

// NewHTML создаёт HTML-рендер. maxItems ограничивает показ элементов,
// ноль снимает ограничение.
func NewHTML(title string, maxItems int) *HTML {
	if title == "" {
		title = "Рассылка"
	}
	return &HTML{title: title, maxItems: maxItems}
}

// Render реализует domain.Composer.
func (h *HTML) Render(ctx context.Context, sub domain.Subscription, items []domain.Item) (domain.Message, error) {
	shown, hidden := capItems(items, h.maxItems)
	subject := fmt.Sprintf("%s: выпуск от %s", h.title, time.Now().Format("02.01.2006"))

	var b strings.Builder
	b.WriteString("<!doctype html>\n<html>\n<head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(subject))
	b.WriteString("</title></head>\n<body>\n<h1>")
	b.WriteString(html.EscapeString(h.title))
	b.WriteString("</h1>\n")

	if len(shown) == 0 {
		b.WriteString("<p>Новых материалов в этом выпуске нет.</p>\n")
	} else {
		b.WriteString("<ul>\n")
		for _, item := range shown {
			b.WriteString("<li>")
			title := html.EscapeString(item.Title)
			if url := strings.TrimSpace(item.URL); url != "" {
				b.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(url), title))
			} else {
				b.WriteString("<b>" + title + "</b>")
			}
			if body := snippet(item.Body, 300); body != "" {
				b.WriteString("<p>" + html.EscapeString(body) + "</p>")
			}
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>\n")
		if hidden > 0 {
			b.WriteString(fmt.Sprintf("<p>…и ещё %d материалов.</p>\n", hidden))
		}
	}

	b.WriteString("</body>\n</html>\n")
	return baseMessage(sub, "html", subject, []byte(b.String())), nil
}
