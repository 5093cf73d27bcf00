// Package alert delivers best-effort finding notifications through the
// Telegram Bot API.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gemscout/gemscout/internal/domain"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends alerts to a fixed chat. Construct with NewTelegram; use
// NewNoop when the bot token or chat id is not configured.
type Telegram struct {
	apiBase    string
	token      string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures the Telegram alerter.
type Options struct {
	// Token is the bot token; required.
	Token string

	// ChatID is the destination chat; required.
	ChatID string

	// APIBase overrides the Telegram endpoint in tests.
	APIBase string

	// Timeout bounds each send. Defaults to 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewTelegram builds the live alerter from opts.
func NewTelegram(opts Options) (*Telegram, error) {
	if opts.Token == "" || opts.ChatID == "" {
		return nil, fmt.Errorf("bot token and chat id are required")
	}
	apiBase := opts.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Telegram{
		apiBase:    apiBase,
		token:      opts.Token,
		chatID:     opts.ChatID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Send delivers one alert. Failures are logged and reported as false;
// delivery is never retried and never blocks finding creation.
func (t *Telegram) Send(ctx context.Context, a domain.Alert) bool {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       formatMessage(a),
		"parse_mode": "Markdown",
	})
	if err != nil {
		t.logger.Error("marshal alert", "error", err)
		return false
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.logger.Error("create alert request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("alert send failed", "title", a.Title, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.logger.Warn("alert rejected", "title", a.Title, "status", resp.StatusCode, "body", string(body))
		return false
	}

	t.logger.Info("alert sent", "title", a.Title)
	return true
}

func formatMessage(a domain.Alert) string {
	var b strings.Builder
	b.WriteString("*Hidden Gem Found!*\n\n")
	fmt.Fprintf(&b, "*%s*\n\n", a.Title)
	fmt.Fprintf(&b, "Price: %s\n", a.Price)
	fmt.Fprintf(&b, "Confidence: %d%%\n", a.Confidence)
	fmt.Fprintf(&b, "Advice: %s\n", a.Advice)
	if len(a.Materials) > 0 {
		fmt.Fprintf(&b, "Materials: %s\n", strings.Join(a.Materials, ", "))
	}
	if a.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", a.Reasoning)
	}
	fmt.Fprintf(&b, "\n[View Listing](%s)", a.URL)
	return b.String()
}
