// Package bridge implements the connection provider against a
// wppconnect-style sidecar: session control goes over its REST API and
// handshake events (credentials, status signals, inbound messages) arrive
// on a per-session websocket stream.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// Factory creates connection handles backed by the sidecar.
type Factory struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewFactory creates a sidecar-backed factory. baseURL is the sidecar's
// HTTP root, e.g. http://localhost:21465.
func NewFactory(log *slog.Logger, baseURL, token string) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: log.With(slog.String("component", "bridge")),
	}
}

// Create starts the session on the sidecar, attaches to its event stream,
// and blocks until the login completes, i.e. until a status event that
// maps to CONNECTED arrives. Credentials and status signals observed while
// waiting are forwarded through cfg's callbacks as they happen, so a
// caller racing on those callbacks hears them before Create returns. If
// the stream dies before login, or ctx is canceled, Create fails.
func (f *Factory) Create(ctx context.Context, cfg whatsapp.CreateConfig) (whatsapp.Client, error) {
	c := &client{
		factory:   f,
		sessionID: cfg.SessionID,
		logger:    f.logger.With(slog.String("session_id", cfg.SessionID)),
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
		done:      make(chan struct{}),
	}

	body := startPayload{PairingPhone: cfg.PairingPhone}
	if err := c.post(ctx, "/sessions/"+url.PathEscape(cfg.SessionID)+"/start", body, nil); err != nil {
		return nil, fmt.Errorf("start session on sidecar: %w", err)
	}

	conn, err := f.dialEvents(ctx, cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("attach event stream: %w", err)
	}
	c.conn = conn

	go c.readEvents(cfg)

	select {
	case <-c.connected:
		return c, nil
	case err := <-c.failed:
		c.conn.Close()
		return nil, fmt.Errorf("event stream ended before login: %w", err)
	case <-ctx.Done():
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
		<-c.done
		return nil, ctx.Err()
	}
}

func (f *Factory) dialEvents(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sessions/" + url.PathEscape(sessionID) + "/events"

	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}

	conn, resp, err := f.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

type startPayload struct {
	PairingPhone string `json:"pairing_phone,omitempty"`
}
