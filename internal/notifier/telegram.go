package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"StockOracle/internal/logger"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageLen is the Bot API limit for one message text, in characters.
	maxMessageLen = 4096
	retryBase     = time.Second
)

// TelegramNotifier delivers HTML messages to one chat through the Bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string // empty means api.telegram.org
	Client   *http.Client
}

// NewTelegramNotifier builds a notifier whose client honours proxyURL when set.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	var proxy func(*http.Request) (*url.URL, error)
	if u, err := url.Parse(proxyURL); proxyURL != "" && err == nil {
		proxy = http.ProxyURL(u)
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  defaultAPIBase,
		Client:   &http.Client{Timeout: pollTimeout + 5*time.Second, Transport: &http.Transport{Proxy: proxy}},
	}
}

// apiResponse is the envelope every Bot API method answers with.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *TelegramNotifier) endpoint(method string) string {
	base := strings.TrimRight(t.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	return base + "/bot" + t.BotToken + "/" + method
}

// call performs one Bot API request and returns the raw result. A nil body
// issues a GET.
func (t *TelegramNotifier) call(ctx context.Context, client *http.Client, method string, query url.Values, body any) (json.RawMessage, error) {
	target := t.endpoint(method)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpMethod, reader := http.MethodGet, io.Reader(nil)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", method, err)
		}
		httpMethod, reader = http.MethodPost, bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	var env apiResponse
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil || resp.StatusCode != http.StatusOK || !env.OK {
		desc := env.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, desc)
	}
	return env.Result, nil
}

var htmlTag = regexp.MustCompile(`<(/?)([a-zA-Z]+)[^>]*>`)

// truncateHTML cuts text to at most limit runes, ending with an ellipsis. The
// cut never lands inside a tag, an entity or a multi-byte character, and tags
// left open are closed so the result still parses as Telegram HTML.
func truncateHTML(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	for keep := limit - 1; keep > 0; {
		head := string(runes[:keep])
		if i := strings.LastIndex(head, "<"); i > strings.LastIndex(head, ">") {
			head = head[:i]
		}
		if i := strings.LastIndex(head, "&"); i > strings.LastIndex(head, ";") {
			head = head[:i]
		}

		var open []string
		for _, m := range htmlTag.FindAllStringSubmatch(head, -1) {
			name := strings.ToLower(m[2])
			if m[1] == "" {
				open = append(open, name)
				continue
			}
			for j := len(open) - 1; j >= 0; j-- {
				if open[j] == name {
					open = append(open[:j], open[j+1:]...)
					break
				}
			}
		}
		var closing strings.Builder
		for j := len(open) - 1; j >= 0; j-- {
			closing.WriteString("</" + open[j] + ">")
		}

		out := head + "…" + closing.String()
		over := utf8.RuneCountInString(out) - limit
		if over <= 0 {
			return out
		}
		keep -= over
	}
	return "…"
}

// Send posts text to the configured chat. Text over the API limit is cut
// with an ellipsis.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	text = truncateHTML(text, maxMessageLen)
	_, err := t.call(ctx, t.Client, "sendMessage", nil, map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	return err
}

// SendWithRetry is Send with up to maxRetries further attempts, doubling the
// pause from one second.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	log := logger.WithComponent("notifier")
	err := t.Send(ctx, text)
	for attempt, wait := 1, retryBase; err != nil && attempt <= maxRetries; attempt, wait = attempt+1, wait*2 {
		log.WithField("attempt", attempt).Warnf("telegram send failed, retrying in %v: %v", wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = t.Send(ctx, text)
	}
	if err != nil {
		return fmt.Errorf("send after %d attempts: %w", maxRetries+1, err)
	}
	return nil
}
