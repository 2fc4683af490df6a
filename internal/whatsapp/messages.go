package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rufuslabs/wappgate/internal/bus"
)

// ErrEmptyBody reports an outbound message with nothing to send.
var ErrEmptyBody = errors.New("empty message body")

// Messages sends outbound text through live session handles. Sends are
// rate limited per session so one busy funnel cannot get the number
// flagged by the provider.
type Messages struct {
	registry *Registry
	logger   *slog.Logger

	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMessages creates the outbound message service. perMinute caps sends
// per session; zero or negative disables the throttle.
func NewMessages(log *slog.Logger, registry *Registry, perMinute int) *Messages {
	if log == nil {
		log = slog.Default()
	}
	return &Messages{
		registry:  registry,
		logger:    log.With(slog.String("service", "messages")),
		perMinute: perMinute,
		limiters:  map[string]*rate.Limiter{},
	}
}

// Send normalizes the target, verifies it is registered with the provider,
// and delivers the text through the session's live handle.
func (m *Messages) Send(ctx context.Context, sessionID, target, text string) (Receipt, error) {
	if text == "" {
		return Receipt{}, ErrEmptyBody
	}

	client, ok := m.registry.Get(sessionID)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	jid, err := NormalizeJID(target)
	if err != nil {
		return Receipt{}, err
	}

	if err := m.wait(ctx, sessionID); err != nil {
		return Receipt{}, err
	}

	// Link and group ids already come from the provider; only phone-style
	// targets get the existence check.
	if !IsLinkJID(jid) && !IsGroupJID(jid) {
		check, err := client.CheckTarget(ctx, jid)
		if err != nil {
			return Receipt{}, fmt.Errorf("check target %s: %w", jid, err)
		}
		if !check.Exists {
			return Receipt{}, fmt.Errorf("%w: %s", ErrTargetNotRegistered, jid)
		}
		if check.ResolvedID != "" {
			jid = check.ResolvedID
		}
	}

	receipt, err := client.Send(ctx, jid, text)
	if err != nil {
		return Receipt{}, fmt.Errorf("send to %s: %w", jid, err)
	}
	m.logger.Info("message sent",
		slog.String("session_id", sessionID),
		slog.String("to", jid))
	return receipt, nil
}

// Bind subscribes the service to outbound envelopes on the event bridge.
// Delivery failures are logged, not propagated; the bridge has no reply
// channel and a failed automated reply must not wedge the dispatcher.
func (m *Messages) Bind(bridge *bus.Bridge) {
	bridge.Subscribe(bus.TopicMessageSend, func(ctx context.Context, payload any) error {
		msg, ok := payload.(bus.OutboundMessage)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		if _, err := m.Send(ctx, msg.SessionID, msg.To, msg.Body); err != nil {
			m.logger.Error("bridge send failed",
				slog.String("session_id", msg.SessionID),
				slog.String("to", msg.To),
				slog.Any("error", err))
		}
		return nil
	})
}

func (m *Messages) wait(ctx context.Context, sessionID string) error {
	if m.perMinute <= 0 {
		return nil
	}
	m.mu.Lock()
	limiter, ok := m.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(m.perMinute)/60.0), m.perMinute)
		m.limiters[sessionID] = limiter
	}
	m.mu.Unlock()
	return limiter.Wait(ctx)
}
