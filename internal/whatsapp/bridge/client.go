package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// event is the sidecar's stream envelope.
type event struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`

	// message fields
	From      string `json:"from,omitempty"`
	Body      string `json:"body,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsGroup   bool   `json:"is_group,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
}

const (
	eventCredential = "credential"
	eventStatus     = "status"
	eventMessage    = "message"
)

type client struct {
	factory   *Factory
	sessionID string
	logger    *slog.Logger
	conn      *websocket.Conn

	// connected is closed once a status event maps to CONNECTED; failed
	// carries the stream error when the stream dies before that point.
	connected chan struct{}
	failed    chan error
	connOnce  sync.Once

	mu        sync.Mutex
	onMessage func(msg whatsapp.RawMessage)
	closed    bool
	done      chan struct{}
}

// readEvents pumps the websocket until the connection dies or Close is
// called. Callbacks run on this goroutine, so handlers must not block.
func (c *client) readEvents(cfg whatsapp.CreateConfig) {
	defer close(c.done)
	for {
		var ev event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-c.connected:
				// The login was already established; surface the drop as a
				// provider disconnect signal.
				c.logger.Warn("event stream ended", slog.Any("error", err))
				if cfg.OnStatusChange != nil {
					cfg.OnStatusChange("browserClose")
				}
			default:
				c.failed <- err
			}
			return
		}

		switch ev.Type {
		case eventCredential:
			if cfg.OnCredential != nil {
				cfg.OnCredential(ev.Payload)
			}
		case eventStatus:
			if cfg.OnStatusChange != nil {
				cfg.OnStatusChange(ev.Payload)
			}
			if mapped, _ := whatsapp.MapRawStatus(ev.Payload); mapped == whatsapp.StatusConnected {
				c.connOnce.Do(func() { close(c.connected) })
			}
		case eventMessage:
			c.mu.Lock()
			handler := c.onMessage
			c.mu.Unlock()
			if handler != nil {
				handler(whatsapp.RawMessage{
					From:      ev.From,
					Body:      ev.Body,
					Timestamp: time.Unix(ev.Timestamp, 0).UTC(),
					IsGroup:   ev.IsGroup,
					ChatID:    ev.ChatID,
				})
			}
		default:
			c.logger.Debug("ignoring event", slog.String("type", ev.Type))
		}
	}
}

func (c *client) Send(ctx context.Context, target, text string) (whatsapp.Receipt, error) {
	var out struct {
		MessageID string `json:"message_id"`
		To        string `json:"to"`
	}
	payload := map[string]string{"to": target, "body": text}
	if err := c.post(ctx, c.path("messages"), payload, &out); err != nil {
		return whatsapp.Receipt{}, err
	}
	return whatsapp.Receipt{MessageID: out.MessageID, To: out.To}, nil
}

func (c *client) CheckTarget(ctx context.Context, target string) (whatsapp.TargetCheck, error) {
	var out struct {
		Exists     bool   `json:"exists"`
		ResolvedID string `json:"resolved_id"`
	}
	if err := c.get(ctx, c.path("contacts")+"/"+url.PathEscape(target), &out); err != nil {
		return whatsapp.TargetCheck{}, err
	}
	return whatsapp.TargetCheck{Exists: out.Exists, ResolvedID: out.ResolvedID}, nil
}

func (c *client) Connected(ctx context.Context) (bool, error) {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := c.get(ctx, c.path("status"), &out); err != nil {
		return false, err
	}
	return out.Connected, nil
}

func (c *client) State(ctx context.Context) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	if err := c.get(ctx, c.path("status"), &out); err != nil {
		return "", err
	}
	return out.State, nil
}

func (c *client) Identity(ctx context.Context) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, c.path("identity"), &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

func (c *client) OnMessage(fn func(msg whatsapp.RawMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Close logs the session out on the sidecar and tears down the event
// stream. Safe to call once; the registry guarantees that.
func (c *client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	logoutErr := c.post(ctx, c.path("logout"), nil, nil)

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	closeErr := c.conn.Close()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if logoutErr != nil {
		return logoutErr
	}
	return closeErr
}

func (c *client) path(suffix string) string {
	return "/sessions/" + url.PathEscape(c.sessionID) + "/" + suffix
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.factory.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	return c.factory.do(ctx, http.MethodPost, path, in, out)
}

func (f *Factory) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sidecar %s %s: %s: %s", method, path, resp.Status, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
