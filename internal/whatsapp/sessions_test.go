package whatsapp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rufuslabs/wappgate/internal/bus"
	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// memStore is an in-memory SessionStore.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]whatsapp.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]whatsapp.Session{}}
}

func (s *memStore) Get(_ context.Context, sessionID string) (whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return whatsapp.Session{}, fmt.Errorf("%w: %s", whatsapp.ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func (s *memStore) Create(_ context.Context, sessionID string, status whatsapp.Status) (whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := whatsapp.Session{SessionID: sessionID, Status: status, CreatedAt: time.Now()}
	s.sessions[sessionID] = session
	return session, nil
}

func (s *memStore) Update(_ context.Context, sessionID string, upd whatsapp.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", whatsapp.ErrSessionNotFound, sessionID)
	}
	if upd.Status != nil {
		session.Status = *upd.Status
	}
	if upd.Credential != nil {
		session.Credential = *upd.Credential
	}
	if upd.IdentityAddress != nil {
		session.IdentityAddress = *upd.IdentityAddress
	}
	if upd.ConnectedAt != nil {
		session.ConnectedAt = *upd.ConnectedAt
	}
	if upd.DisconnectedAt != nil {
		session.DisconnectedAt = *upd.DisconnectedAt
	}
	s.sessions[sessionID] = session
	return nil
}

func (s *memStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", whatsapp.ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *memStore) List(_ context.Context) ([]whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]whatsapp.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

func (s *memStore) status(sessionID string) whatsapp.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID].Status
}

func newTestSessions(factory whatsapp.Factory, store whatsapp.SessionStore, budget time.Duration) (*whatsapp.Sessions, *whatsapp.Registry) {
	registry := whatsapp.NewRegistry(nil, factory, whatsapp.WithCloseTimeout(50*time.Millisecond))
	sessions := whatsapp.NewSessions(nil, store, registry, bus.NewBridge(nil), budget)
	return sessions, registry
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartAnswersWithCredentialBeforeLoginCompletes(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	loginDone := make(chan struct{})
	factory := whatsapp.FactoryFunc(func(_ context.Context, cfg whatsapp.CreateConfig) (whatsapp.Client, error) {
		cfg.OnCredential("QR-DATA")
		<-loginDone
		return &mockClient{connected: true}, nil
	})
	defer close(loginDone)

	sessions, _ := newTestSessions(factory, store, time.Second)
	result, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Outcome != whatsapp.OutcomeCredential || result.Credential != "QR-DATA" {
		t.Fatalf("result = %+v, want credential outcome", result)
	}
	if got := store.status("sales-line"); got != whatsapp.StatusCredential {
		t.Fatalf("persisted status = %s, want %s", got, whatsapp.StatusCredential)
	}
}

func TestStartAnswersConnectedWhenFactoryCompletesFirst(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	factory := whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{connected: true}, nil
	})

	sessions, registry := newTestSessions(factory, store, time.Second)
	result, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Outcome != whatsapp.OutcomeConnected {
		t.Fatalf("outcome = %s, want %s", result.Outcome, whatsapp.OutcomeConnected)
	}
	if _, ok := registry.Get("sales-line"); !ok {
		t.Fatal("handle not registered after connected start")
	}
}

func TestStartDoesNotTreatUnconfirmedHandleAsConnected(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	factory := whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{connected: false}, nil
	})

	sessions, registry := newTestSessions(factory, store, 50*time.Millisecond)
	_, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"})
	if !errors.Is(err, whatsapp.ErrStartTimeout) {
		t.Fatalf("start error = %v, want ErrStartTimeout while login is unconfirmed", err)
	}
	if got := store.status("sales-line"); got != whatsapp.StatusConnecting {
		t.Fatalf("persisted status = %s, want %s", got, whatsapp.StatusConnecting)
	}

	// The unconfirmed handle stays registered; a second start reuses it and
	// must still not claim connected.
	if _, ok := registry.Get("sales-line"); !ok {
		t.Fatal("handle missing from registry")
	}
	_, err = sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"})
	if !errors.Is(err, whatsapp.ErrStartTimeout) {
		t.Fatalf("repeat start error = %v, want ErrStartTimeout while login is unconfirmed", err)
	}
}

func TestStartTimesOutButLateSuccessIsAdopted(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	client := &mockClient{connected: true}
	factory := whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		time.Sleep(150 * time.Millisecond)
		return client, nil
	})

	sessions, registry := newTestSessions(factory, store, 30*time.Millisecond)
	_, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"})
	if !errors.Is(err, whatsapp.ErrStartTimeout) {
		t.Fatalf("start error = %v, want ErrStartTimeout", err)
	}

	// The establishment keeps running past the caller's budget; the handle
	// must land in the registry anyway.
	waitFor(t, func() bool {
		_, ok := registry.Get("sales-line")
		return ok
	}, "late factory success was not adopted into the registry")
}

func TestStartValidatesInput(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		t.Fatal("factory must not be called for invalid input")
		return nil, nil
	}), newMemStore(), time.Second)

	if _, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "x"}); !errors.Is(err, whatsapp.ErrInvalidSessionID) {
		t.Fatalf("short id: error = %v, want ErrInvalidSessionID", err)
	}
	if _, err := sessions.Start(context.Background(), whatsapp.StartRequest{
		SessionID:   "sales-line",
		PairingMode: whatsapp.PairingPhone,
		PhoneNumber: "abc",
	}); !errors.Is(err, whatsapp.ErrInvalidPhone) {
		t.Fatalf("bad phone: error = %v, want ErrInvalidPhone", err)
	}
}

func TestStatusFiresRecoveryForStaleConnectedRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.sessions["sales-line"] = whatsapp.Session{SessionID: "sales-line", Status: whatsapp.StatusConnected}

	factory := whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{connected: true}, nil
	})
	sessions, registry := newTestSessions(factory, store, time.Second)

	status, err := sessions.Status(context.Background(), "sales-line")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	// Recovery is fire-and-forget: this caller sees disconnected.
	if status != whatsapp.StatusDisconnected {
		t.Fatalf("status = %s, want %s while recovery runs", status, whatsapp.StatusDisconnected)
	}
	waitFor(t, func() bool {
		_, ok := registry.Get("sales-line")
		return ok
	}, "recovery never re-registered the handle")
	waitFor(t, func() bool {
		return store.status("sales-line") == whatsapp.StatusConnected
	}, "recovery never persisted the connected status")
}

func TestStatusUnknownSessionIsDisconnected(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{}, nil
	}), newMemStore(), time.Second)

	status, err := sessions.Status(context.Background(), "never-started")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != whatsapp.StatusDisconnected {
		t.Fatalf("status = %s, want %s", status, whatsapp.StatusDisconnected)
	}
}

func TestProviderSignalsDriveStatusPersistence(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	var captured whatsapp.CreateConfig
	factory := whatsapp.FactoryFunc(func(_ context.Context, cfg whatsapp.CreateConfig) (whatsapp.Client, error) {
		captured = cfg
		return &mockClient{connected: true}, nil
	})
	sessions, _ := newTestSessions(factory, store, time.Second)

	if _, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	captured.OnStatusChange("inChat")
	waitFor(t, func() bool {
		return store.status("sales-line") == whatsapp.StatusConnected
	}, "connected signal not persisted")

	captured.OnStatusChange("desconnectedMobile")
	waitFor(t, func() bool {
		return store.status("sales-line") == whatsapp.StatusDisconnected
	}, "disconnect signal not persisted")

	// Unrecognized signals pass through as-is.
	captured.OnStatusChange("somethingOdd")
	waitFor(t, func() bool {
		return store.status("sales-line") == whatsapp.Status("somethingOdd")
	}, "unknown signal not persisted verbatim")
}

func TestDeleteReleasesHandleAndRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	factory := whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{connected: true}, nil
	})
	sessions, registry := newTestSessions(factory, store, time.Second)

	if _, err := sessions.Start(context.Background(), whatsapp.StartRequest{SessionID: "sales-line"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sessions.Delete(context.Background(), "sales-line"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := registry.Get("sales-line"); ok {
		t.Fatal("handle still registered after delete")
	}
	if _, err := store.Get(context.Background(), "sales-line"); !errors.Is(err, whatsapp.ErrSessionNotFound) {
		t.Fatalf("record still present after delete: %v", err)
	}

	if err := sessions.Delete(context.Background(), "sales-line"); !errors.Is(err, whatsapp.ErrSessionNotFound) {
		t.Fatalf("second delete error = %v, want ErrSessionNotFound", err)
	}
}
