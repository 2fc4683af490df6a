// Package whatsapp manages connection sessions to the WhatsApp backend:
// the connection lifecycle registry, the session orchestrator, and outbound
// message delivery. The wire protocol itself lives behind the Client and
// Factory interfaces and is implemented by an external bridge.
package whatsapp

import (
	"errors"
	"time"
)

// Status is the canonical persisted state of a connection session.
type Status string

// Canonical session statuses.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusCredential   Status = "qrcode"
	StatusConnected    Status = "connected"
)

// Errors returned by session operations.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionConflict     = errors.New("session is already initializing")
	ErrStartTimeout        = errors.New("session establishment timed out")
	ErrCredentialMissing   = errors.New("credential not available")
	ErrTargetNotRegistered = errors.New("target is not registered on whatsapp")
)

// Session is the persisted record of one connection session. The store is
// the system of record; the registry only tracks live handles.
type Session struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Credential      string    `json:"credential,omitempty"`
	IdentityAddress string    `json:"identity_address,omitempty"`
	ConnectedAt     time.Time `json:"connected_at,omitzero"`
	DisconnectedAt  time.Time `json:"disconnected_at,omitzero"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// rawStatusMap translates provider status signals into canonical statuses.
// Unrecognized signals pass through unchanged.
var rawStatusMap = map[string]Status{
	"inChat":             StatusConnected,
	"isLogged":           StatusConnected,
	"qrReadSuccess":      StatusConnected,
	"notLogged":          StatusDisconnected,
	"browserClose":       StatusDisconnected,
	"qrReadFail":         StatusDisconnected,
	"autocloseCalled":    StatusDisconnected,
	"desconnectedMobile": StatusDisconnected,
}

// MapRawStatus translates a provider status string into a canonical Status.
// The second result reports whether the signal was recognized.
func MapRawStatus(raw string) (Status, bool) {
	mapped, ok := rawStatusMap[raw]
	if !ok {
		return Status(raw), false
	}
	return mapped, true
}

// PairingMode selects how a new session authenticates.
type PairingMode string

// Supported pairing modes.
const (
	PairingQRCode PairingMode = "qrcode"
	PairingPhone  PairingMode = "phone"
)

// StartRequest asks the orchestrator to stand up a session.
type StartRequest struct {
	SessionID   string      `json:"session_id"`
	PairingMode PairingMode `json:"pairing_mode,omitempty"`
	PhoneNumber string      `json:"phone_number,omitempty"`
}

// StartOutcome is the fast answer to a start request: either the session is
// fully connected, or a credential (QR payload or pairing code) must be
// presented to the user.
type StartOutcome string

// Start outcomes.
const (
	OutcomeConnected  StartOutcome = "CONNECTED"
	OutcomeCredential StartOutcome = "CREDENTIAL"
)

// StartResult is returned by Start.
type StartResult struct {
	Outcome    StartOutcome `json:"status"`
	Credential string       `json:"credential,omitempty"`
}

// SessionUpdate is a partial update applied to a persisted session record.
// Nil fields are left untouched.
type SessionUpdate struct {
	Status          *Status
	Credential      *string
	IdentityAddress *string
	ConnectedAt     *time.Time
	DisconnectedAt  *time.Time
}
