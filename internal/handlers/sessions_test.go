package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rufuslabs/wappgate/internal/bus"
	"github.com/rufuslabs/wappgate/internal/handlers"
	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

type stubStore struct {
	mu       sync.Mutex
	sessions map[string]whatsapp.Session
}

func (s *stubStore) Get(_ context.Context, id string) (whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return whatsapp.Session{}, fmt.Errorf("%w: %s", whatsapp.ErrSessionNotFound, id)
	}
	return session, nil
}

func (s *stubStore) Create(_ context.Context, id string, status whatsapp.Status) (whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := whatsapp.Session{SessionID: id, Status: status}
	s.sessions[id] = session
	return session, nil
}

func (s *stubStore) Update(_ context.Context, id string, upd whatsapp.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", whatsapp.ErrSessionNotFound, id)
	}
	if upd.Status != nil {
		session.Status = *upd.Status
	}
	if upd.Credential != nil {
		session.Credential = *upd.Credential
	}
	s.sessions[id] = session
	return nil
}

func (s *stubStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubStore) List(_ context.Context) ([]whatsapp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]whatsapp.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

type stubClient struct{}

func (stubClient) Send(_ context.Context, target, _ string) (whatsapp.Receipt, error) {
	return whatsapp.Receipt{MessageID: "m1", To: target}, nil
}

func (stubClient) CheckTarget(_ context.Context, target string) (whatsapp.TargetCheck, error) {
	return whatsapp.TargetCheck{Exists: true, ResolvedID: target}, nil
}
func (stubClient) Connected(_ context.Context) (bool, error)  { return true, nil }
func (stubClient) State(_ context.Context) (string, error)    { return "CONNECTED", nil }
func (stubClient) Identity(_ context.Context) (string, error) { return "5511999999999@c.us", nil }
func (stubClient) OnMessage(_ func(msg whatsapp.RawMessage))  {}
func (stubClient) Close(_ context.Context) error              { return nil }

func newTestAPI(t *testing.T, factory whatsapp.Factory) (*echo.Echo, *stubStore) {
	t.Helper()
	store := &stubStore{sessions: map[string]whatsapp.Session{}}
	registry := whatsapp.NewRegistry(nil, factory)
	sessions := whatsapp.NewSessions(nil, store, registry, bus.NewBridge(nil), time.Second)

	e := echo.New()
	handlers.NewSessionsHandler(slog.Default(), sessions).Register(e)
	return e, store
}

func TestCreateSessionEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestAPI(t, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return stubClient{}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"session_id":"sales-line"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body handlers.StartSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sales-line", body.SessionID)
	assert.Equal(t, string(whatsapp.OutcomeConnected), body.Status)
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestAPI(t, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return stubClient{}, nil
	}))

	for name, payload := range map[string]string{
		"bad id":           `{"session_id":"!!"}`,
		"bad pairing mode": `{"session_id":"sales-line","pairing_mode":"carrier-pigeon"}`,
		"bad phone":        `{"session_id":"sales-line","pairing_mode":"phone","phone_number":"abc"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(payload))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestStatusEndpointUnknownSessionIs404(t *testing.T) {
	t.Parallel()

	e, _ := newTestAPI(t, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return stubClient{}, nil
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/ghost/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCredentialEndpoint(t *testing.T) {
	t.Parallel()

	e, store := newTestAPI(t, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return stubClient{}, nil
	}))
	store.sessions["sales-line"] = whatsapp.Session{
		SessionID:  "sales-line",
		Status:     whatsapp.StatusCredential,
		Credential: "QR-DATA",
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/sales-line/credential", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body handlers.StartSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "QR-DATA", body.Credential)

	// No credential stored yet means 404, not an empty answer.
	store.mu.Lock()
	store.sessions["bare-line"] = whatsapp.Session{SessionID: "bare-line", Status: whatsapp.StatusConnecting}
	store.mu.Unlock()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/bare-line/credential", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
