package whatsapp

import (
	"context"
	"time"
)

// RawMessage is an inbound message as delivered by the connection provider.
type RawMessage struct {
	From      string
	Body      string
	Timestamp time.Time
	IsGroup   bool
	ChatID    string
}

// Receipt acknowledges an outbound send.
type Receipt struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
}

// TargetCheck is the result of a target existence probe.
type TargetCheck struct {
	Exists     bool
	ResolvedID string
}

// Client is a live handle to one established connection. It is owned
// exclusively by the registry while registered and must be closed exactly
// once.
type Client interface {
	Send(ctx context.Context, target, text string) (Receipt, error)
	CheckTarget(ctx context.Context, target string) (TargetCheck, error)
	Connected(ctx context.Context) (bool, error)
	State(ctx context.Context) (string, error)
	Identity(ctx context.Context) (string, error)
	OnMessage(fn func(msg RawMessage))
	Close(ctx context.Context) error
}

// CreateConfig carries everything the factory needs to establish a session.
// The callbacks fire asynchronously as the handshake progresses and may keep
// firing after the originating start request has been answered.
type CreateConfig struct {
	SessionID string

	// PairingPhone selects pairing-code authentication when non-empty.
	PairingPhone string

	// OnCredential receives the QR payload or pairing code.
	OnCredential func(payload string)

	// OnStatusChange receives raw provider status signals.
	OnStatusChange func(raw string)
}

// Factory builds a connection handle, talking to the external provider.
type Factory interface {
	Create(ctx context.Context, cfg CreateConfig) (Client, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg CreateConfig) (Client, error)

// Create implements Factory.
func (f FactoryFunc) Create(ctx context.Context, cfg CreateConfig) (Client, error) {
	return f(ctx, cfg)
}
