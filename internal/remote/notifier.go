package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Signal reasons passed to the notifier callback.
const (
	SignalConnected = "connected"
	SignalChanged   = "changed"
)

// Notifier holds a websocket open to the service's /ws endpoint. Every
// successful (re)connect means connectivity was restored, and the service
// may also push "changed" events. Both are reported through the callback
// given to Run.
type Notifier struct {
	url    string
	tokens TokenSource
	logger *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
	// healthyAfter is how long a connection must last before the backoff
	// resets.
	healthyAfter time.Duration
}

// NewNotifier builds a notifier for the service at baseURL.
func NewNotifier(baseURL string, tokens TokenSource, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		url:          websocketURL(baseURL),
		tokens:       tokens,
		logger:       logger,
		sleepFunc:    timeSleep,
		healthyAfter: 30 * time.Second,
	}
}

type event struct {
	Type string `json:"type"`
}

// Run connects, reads events and reconnects with backoff until ctx is
// canceled. signal must not block for long.
func (n *Notifier) Run(ctx context.Context, signal func(reason string)) error {
	attempt := 0

	for {
		started := time.Now()
		err := n.session(ctx, signal)

		if ctx.Err() != nil {
			return nil
		}

		if time.Since(started) >= n.healthyAfter {
			attempt = 0
		}

		backoff := calcBackoff(attempt)
		n.logger.Debug("notifier disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)

		if err := n.sleepFunc(ctx, backoff); err != nil {
			return nil
		}

		attempt++
	}
}

func (n *Notifier) session(ctx context.Context, signal func(reason string)) error {
	header := http.Header{}

	if n.tokens != nil {
		tok, err := n.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("remote: notifier token: %w", err)
		}

		header.Set("Authorization", "Bearer "+tok)
	}

	conn, _, err := websocket.Dial(ctx, n.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("remote: dialing %s: %w", n.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	n.logger.Debug("notifier connected", slog.String("url", n.url))
	signal(SignalConnected)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			continue
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			n.logger.Debug("ignoring malformed notifier event", slog.String("error", err.Error()))
			continue
		}

		if ev.Type == SignalChanged {
			signal(SignalChanged)
		}
	}
}

// websocketURL maps http(s)://host to ws(s)://host/ws.
func websocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")

	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	return u + "/ws"
}

func errString(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}

	return err.Error()
}
