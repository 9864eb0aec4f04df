package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StockOracle/internal/logger"
)

// CommandHandler answers one chat command. An empty reply sends nothing.
type CommandHandler func(ctx context.Context, command string) string

type update struct {
	ID      int `json:"update_id"`
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

const (
	pollTimeout = 30 * time.Second
	pollPause   = 5 * time.Second
)

// StartPolling long-polls getUpdates and hands commands from the configured
// chat to handler. It returns when ctx is done.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	log := logger.WithComponent("notifier")
	defer log.Info("telegram polling stopped")

	// the request outlives the server-side long poll
	client := &http.Client{Timeout: pollTimeout + 5*time.Second, Transport: t.Client.Transport}
	offset := 0
	for ctx.Err() == nil {
		updates, err := t.updates(ctx, client, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("poll failed, pausing %v: %v", pollPause, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollPause):
			}
			continue
		}

		for _, u := range updates {
			offset = u.ID + 1
			if u.Message == nil {
				continue
			}
			text := strings.TrimSpace(u.Message.Text)
			if text == "" {
				continue
			}
			chat := strconv.FormatInt(u.Message.Chat.ID, 10)
			if t.ChatID != "" && chat != t.ChatID {
				log.WithField("chat", chat).Warn("ignoring message from foreign chat")
				continue
			}
			log.WithField("command", text).Info("command received")
			reply := handler(ctx, text)
			if reply == "" {
				continue
			}
			if err := t.Send(ctx, reply); err != nil {
				log.Errorf("reply to %q: %v", text, err)
			}
		}
	}
}

func (t *TelegramNotifier) updates(ctx context.Context, client *http.Client, offset int) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("timeout", strconv.Itoa(int(pollTimeout/time.Second)))
	raw, err := t.call(ctx, client, "getUpdates", q, nil)
	if err != nil {
		return nil, err
	}
	var out []update
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
