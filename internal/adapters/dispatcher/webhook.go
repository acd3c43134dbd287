package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"newsletter-engine/internal/domain"
	"newsletter-engine/internal/infra/metrics"
)

// Webhook доставляет сообщения HTTP-запросом на настроенный приёмник.
// Приёмник сам решает, как донести сообщение до адресата.
type Webhook struct {
	http     *http.Client
	endpoint string
	token    string
	log      zerolog.Logger
}

var _ domain.Dispatcher = (*Webhook)(nil)

// NewWebhook создаёт HTTP-доставщика.
func NewWebhook(endpoint, token string, timeout time.Duration, log zerolog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		http:     &http.Client{Timeout: timeout},
		endpoint: endpoint,
		token:    token,
		log:      log,
	}
}

// envelope — тело запроса приёмнику. Payload сериализуется в base64.
type envelope struct {
	MessageID string `json:"message_id"`
	Address   string `json:"address"`
	Format    string `json:"format"`
	Subject   string `json:"subject"`
	Payload   []byte `json:"payload"`
}

// Dispatch реализует domain.Dispatcher. Сетевые сбои, 408, 429 и 5xx
// считаются временными, остальные ответы — постоянными.
func (w *Webhook) Dispatch(ctx context.Context, msg domain.Message) (domain.MessageStatus, string, error) {
	if w.endpoint == "" {
		return domain.StatusError, "приёмник не настроен", nil
	}

	body, err := json.Marshal(envelope{
		MessageID: msg.ID,
		Address:   msg.Address,
		Format:    msg.Format,
		Subject:   msg.Subject,
		Payload:   msg.Payload,
	})
	if err != nil {
		return domain.StatusError, "", fmt.Errorf("webhook: кодирование тела: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.StatusError, "", fmt.Errorf("webhook: сборка запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	start := time.Now()
	resp, err := w.http.Do(req)
	metrics.ObserveNetworkRequest("webhook", "dispatch", msg.Format, start, err)
	if err != nil {
		return domain.StatusRetry, err.Error(), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.StatusSent, "", nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return domain.StatusRetry, fmt.Sprintf("приёмник ответил %d", resp.StatusCode), nil
	default:
		return domain.StatusError, fmt.Sprintf("приёмник ответил %d", resp.StatusCode), nil
	}
}
