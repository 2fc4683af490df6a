package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/rufuslabs/wappgate/internal/bus"
)

// DefaultConnectBudget bounds how long a start request waits for the first
// of credential, connected, or error. WhatsApp-Web-style handshakes present
// a credential quickly but finish logging in asynchronously, so callers get
// a fast answer while the connection keeps progressing in the background.
const DefaultConnectBudget = 20 * time.Second

var (
	sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
	phonePattern     = regexp.MustCompile(`^\d{10,15}$`)

	// ErrInvalidSessionID reports a malformed session id.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidPhone reports a malformed pairing phone number.
	ErrInvalidPhone = errors.New("invalid phone number")
)

// Sessions orchestrates connection establishment: it stands up handles
// through the registry, wires inbound messages onto the event bridge, and
// persists status transitions to the session store.
type Sessions struct {
	store    SessionStore
	registry *Registry
	bridge   *bus.Bridge
	logger   *slog.Logger

	connectBudget time.Duration
}

// NewSessions creates the session orchestrator.
func NewSessions(log *slog.Logger, store SessionStore, registry *Registry, bridge *bus.Bridge, connectBudget time.Duration) *Sessions {
	if log == nil {
		log = slog.Default()
	}
	if connectBudget <= 0 {
		connectBudget = DefaultConnectBudget
	}
	return &Sessions{
		store:         store,
		registry:      registry,
		bridge:        bridge,
		logger:        log.With(slog.String("service", "sessions")),
		connectBudget: connectBudget,
	}
}

// Start turns a start request into either a pending-credential answer or a
// connected answer without blocking for the full handshake.
func (s *Sessions) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if !sessionIDPattern.MatchString(req.SessionID) {
		return StartResult{}, fmt.Errorf("%w: %q", ErrInvalidSessionID, req.SessionID)
	}
	pairingPhone := ""
	if req.PairingMode == PairingPhone {
		if !phonePattern.MatchString(req.PhoneNumber) {
			return StartResult{}, fmt.Errorf("%w: %q", ErrInvalidPhone, req.PhoneNumber)
		}
		pairingPhone = req.PhoneNumber
	}

	s.logger.Info("starting session", slog.String("session_id", req.SessionID))

	if s.registry.Connected(ctx, req.SessionID) {
		return StartResult{Outcome: OutcomeConnected}, nil
	}

	connecting := StatusConnecting
	if _, err := s.store.Get(ctx, req.SessionID); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return StartResult{}, err
		}
		if _, err := s.store.Create(ctx, req.SessionID, StatusConnecting); err != nil {
			return StartResult{}, err
		}
	} else if err := s.store.Update(ctx, req.SessionID, SessionUpdate{Status: &connecting}); err != nil {
		return StartResult{}, err
	}

	return s.establish(ctx, req.SessionID, pairingPhone)
}

// establish races three event sources with first-settles-wins semantics:
// the credential callback, a connected status signal, and the factory's own
// completion, which only counts as connected once the handle confirms the
// login. Later firings still drive status persistence in the background; a
// factory success after the caller's budget elapsed is still registered and
// adopted (the registry keeps the handle alive).
func (s *Sessions) establish(ctx context.Context, sessionID, pairingPhone string) (StartResult, error) {
	type settled struct {
		res StartResult
		err error
	}

	resultCh := make(chan settled, 1)
	var once sync.Once
	settle := func(out settled) {
		once.Do(func() { resultCh <- out })
	}

	bg := context.WithoutCancel(ctx)
	cfg := CreateConfig{
		SessionID:    sessionID,
		PairingPhone: pairingPhone,
		OnCredential: func(payload string) {
			s.logger.Info("credential captured", slog.String("session_id", sessionID))
			s.persistCredential(bg, sessionID, payload)
			settle(settled{res: StartResult{Outcome: OutcomeCredential, Credential: payload}})
		},
		OnStatusChange: func(raw string) {
			s.handleStatusChange(bg, sessionID, raw)
			if mapped, _ := MapRawStatus(raw); mapped == StatusConnected {
				settle(settled{res: StartResult{Outcome: OutcomeConnected}})
			}
		},
	}

	go func() {
		client, err := s.registry.Acquire(bg, sessionID, cfg)
		if err != nil {
			if !errors.Is(err, ErrSessionConflict) {
				s.markDisconnected(bg, sessionID)
			}
			settle(settled{err: err})
			return
		}
		client.OnMessage(func(msg RawMessage) {
			s.handleIncoming(sessionID, msg)
		})
		// Acquire can hand back an already-registered handle that is still
		// mid-handshake; only a confirmed login settles this branch. An
		// unconfirmed handle leaves the race to the credential and status
		// callbacks.
		if ok, err := client.Connected(bg); err == nil && ok {
			settle(settled{res: StartResult{Outcome: OutcomeConnected}})
		}
	}()

	timer := time.NewTimer(s.connectBudget)
	defer timer.Stop()

	select {
	case out := <-resultCh:
		return out.res, out.err
	case <-timer.C:
		s.logger.Warn("establishment budget elapsed", slog.String("session_id", sessionID))
		return StartResult{}, fmt.Errorf("%w: %s", ErrStartTimeout, sessionID)
	}
}

// Status reports the effective status for sessionID. A live handle is
// probed directly; a persisted CONNECTED record with no live handle fires a
// detached recovery and under-reports DISCONNECTED for this caller.
func (s *Sessions) Status(ctx context.Context, sessionID string) (Status, error) {
	if _, ok := s.registry.Get(sessionID); ok {
		if s.registry.Connected(ctx, sessionID) {
			return StatusConnected, nil
		}
		if state, ok := s.registry.State(ctx, sessionID); ok && state == "CONNECTED" {
			return StatusConnected, nil
		}
		return StatusDisconnected, nil
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return StatusDisconnected, nil
		}
		return "", err
	}

	if session.Status == StatusConnected {
		s.logger.Info("persisted record says connected but no handle, recovering",
			slog.String("session_id", sessionID))
		go s.recover(context.WithoutCancel(ctx), sessionID)
		return StatusDisconnected, nil
	}
	return session.Status, nil
}

// Get returns the persisted session record.
func (s *Sessions) Get(ctx context.Context, sessionID string) (Session, error) {
	return s.store.Get(ctx, sessionID)
}

// List returns all persisted records with status overridden by a live probe.
func (s *Sessions) List(ctx context.Context) ([]Session, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		status, err := s.Status(ctx, sessions[i].SessionID)
		if err != nil {
			continue
		}
		sessions[i].Status = status
	}
	return sessions, nil
}

// Credential returns the pending credential for sessionID, or
// ErrCredentialMissing when none is stored. An already connected session
// reports OutcomeConnected with no credential.
func (s *Sessions) Credential(ctx context.Context, sessionID string) (StartResult, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	status, err := s.Status(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if status == StatusConnected {
		return StartResult{Outcome: OutcomeConnected}, nil
	}
	if session.Credential == "" {
		return StartResult{}, fmt.Errorf("%w: %s", ErrCredentialMissing, sessionID)
	}
	return StartResult{Outcome: OutcomeCredential, Credential: session.Credential}, nil
}

// Delete releases the live handle and removes the persisted record.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	s.registry.Release(ctx, sessionID)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session deleted", slog.String("session_id", sessionID))
	return nil
}

// Shutdown releases every live handle.
func (s *Sessions) Shutdown(ctx context.Context) {
	s.registry.CloseAll(ctx)
}

// Reconcile walks persisted records and repairs drift between the store and
// the registry: dead handles get their records marked disconnected, and
// records claiming CONNECTED with no live handle trigger detached recovery.
func (s *Sessions) Reconcile(ctx context.Context) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("reconcile list failed", slog.Any("error", err))
		return
	}
	for _, session := range sessions {
		_, live := s.registry.Get(session.SessionID)
		switch {
		case live:
			if !s.registry.Connected(ctx, session.SessionID) && session.Status == StatusConnected {
				s.markDisconnected(ctx, session.SessionID)
			}
		case session.Status == StatusConnected:
			go s.recover(context.WithoutCancel(ctx), session.SessionID)
		}
	}
}

// recover re-establishes a session after a process restart. Not awaited by
// status callers; failures downgrade the persisted record.
func (s *Sessions) recover(ctx context.Context, sessionID string) {
	if _, ok := s.registry.Get(sessionID); ok {
		return
	}
	s.logger.Info("recovering session", slog.String("session_id", sessionID))

	cfg := CreateConfig{
		SessionID: sessionID,
		OnCredential: func(payload string) {
			// A credential request during recovery means the login is gone.
			s.persistCredential(ctx, sessionID, payload)
		},
		OnStatusChange: func(raw string) {
			s.handleStatusChange(ctx, sessionID, raw)
		},
	}

	client, err := s.registry.Acquire(ctx, sessionID, cfg)
	if err != nil {
		if errors.Is(err, ErrSessionConflict) {
			return
		}
		s.logger.Error("recovery failed", slog.String("session_id", sessionID), slog.Any("error", err))
		s.markDisconnected(ctx, sessionID)
		return
	}
	client.OnMessage(func(msg RawMessage) {
		s.handleIncoming(sessionID, msg)
	})
	s.handleStatusChange(ctx, sessionID, "isLogged")
	s.logger.Info("session recovered", slog.String("session_id", sessionID))
}

// handleStatusChange maps a raw provider status signal and persists the
// transition. On CONNECTED the credential is cleared and the identity
// address is resolved through the live handle.
func (s *Sessions) handleStatusChange(ctx context.Context, sessionID, raw string) {
	mapped, known := MapRawStatus(raw)
	if !known {
		s.logger.Warn("unrecognized provider status",
			slog.String("session_id", sessionID),
			slog.String("status", raw))
	}
	s.logger.Info("status change",
		slog.String("session_id", sessionID),
		slog.String("status", string(mapped)))

	upd := SessionUpdate{Status: &mapped}
	now := time.Now().UTC()
	switch mapped {
	case StatusConnected:
		empty := ""
		upd.ConnectedAt = &now
		upd.Credential = &empty
		if client, ok := s.registry.Get(sessionID); ok {
			if addr, err := client.Identity(ctx); err == nil && addr != "" {
				upd.IdentityAddress = &addr
			}
		}
	case StatusDisconnected:
		upd.DisconnectedAt = &now
	}

	if err := s.store.Update(ctx, sessionID, upd); err != nil {
		s.logger.Error("persist status change failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

func (s *Sessions) persistCredential(ctx context.Context, sessionID, payload string) {
	status := StatusCredential
	if err := s.store.Update(ctx, sessionID, SessionUpdate{Status: &status, Credential: &payload}); err != nil {
		s.logger.Error("persist credential failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

func (s *Sessions) markDisconnected(ctx context.Context, sessionID string) {
	status := StatusDisconnected
	now := time.Now().UTC()
	if err := s.store.Update(ctx, sessionID, SessionUpdate{Status: &status, DisconnectedAt: &now}); err != nil {
		s.logger.Error("persist disconnect failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
}

// handleIncoming normalizes a raw provider message into the bridge envelope.
func (s *Sessions) handleIncoming(sessionID string, msg RawMessage) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	chatID := msg.ChatID
	if chatID == "" {
		chatID = msg.From
	}
	s.bridge.Publish(bus.TopicMessageReceived, bus.InboundMessage{
		SessionID: sessionID,
		From:      msg.From,
		Body:      msg.Body,
		Timestamp: ts,
		IsGroup:   msg.IsGroup,
		ChatID:    chatID,
	})
}
