package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry default timeouts; override via the options on NewRegistry.
const (
	DefaultCloseTimeout = 5 * time.Second
	DefaultForceTimeout = 500 * time.Millisecond
)

// Registry is the single source of truth for which sessions hold a live
// connection handle. Handles are created through the injected factory and
// deduplicated per session id: while a creation attempt is in flight the
// session is marked initializing and concurrent Acquire calls fail with
// ErrSessionConflict rather than queue. The map and the initializing set are
// guarded by the same mutex.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	closeTimeout time.Duration
	forceTimeout time.Duration

	mu           sync.Mutex
	clients      map[string]Client
	initializing map[string]struct{}
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithCloseTimeout bounds how long Release waits for a handle to close.
func WithCloseTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// WithForceTimeout bounds how long ForceRelease waits for a handle to close.
func WithForceTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.forceTimeout = d
		}
	}
}

// NewRegistry creates an empty registry around the given factory.
func NewRegistry(log *slog.Logger, factory Factory, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		factory:      factory,
		logger:       log.With(slog.String("component", "registry")),
		closeTimeout: DefaultCloseTimeout,
		forceTimeout: DefaultForceTimeout,
		clients:      map[string]Client{},
		initializing: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the registered handle for sessionID, creating one through
// the factory if none exists. At most one creation attempt per session id is
// in flight at a time; concurrent callers get ErrSessionConflict. The
// initializing mark is cleared on every exit path.
func (r *Registry) Acquire(ctx context.Context, sessionID string, cfg CreateConfig) (Client, error) {
	r.mu.Lock()
	if client, ok := r.clients[sessionID]; ok {
		r.mu.Unlock()
		r.logger.Debug("handle already registered", slog.String("session_id", sessionID))
		return client, nil
	}
	if _, busy := r.initializing[sessionID]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionConflict, sessionID)
	}
	r.initializing[sessionID] = struct{}{}
	r.mu.Unlock()

	client, err := r.factory.Create(ctx, cfg)

	r.mu.Lock()
	delete(r.initializing, sessionID)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	r.clients[sessionID] = client
	total := len(r.clients)
	r.mu.Unlock()

	r.logger.Info("handle registered",
		slog.String("session_id", sessionID),
		slog.Int("total", total))
	return client, nil
}

// Get returns the registered handle for sessionID. Pure lookup.
func (r *Registry) Get(sessionID string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[sessionID]
	return client, ok
}

// Connected probes the registered handle. A missing handle is simply not
// connected. A handle whose probe fails is considered dead and is silently
// deregistered so that callers never keep hitting a stale handle.
func (r *Registry) Connected(ctx context.Context, sessionID string) bool {
	client, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	connected, err := client.Connected(ctx)
	if err != nil {
		r.logger.Warn("handle probe failed, deregistering",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		r.mu.Lock()
		delete(r.clients, sessionID)
		r.mu.Unlock()
		return false
	}
	return connected
}

// State returns the provider's detailed connection state for sessionID.
func (r *Registry) State(ctx context.Context, sessionID string) (string, bool) {
	client, ok := r.Get(sessionID)
	if !ok {
		return "", false
	}
	state, err := client.State(ctx)
	if err != nil {
		r.logger.Warn("handle state probe failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		return "", false
	}
	return state, true
}

// Release closes and removes the handle for sessionID. The close is bounded
// by the registry close timeout; failures and timeouts are logged and
// swallowed. In all cases the handle is removed before Release returns, so
// Get never reports a handle the caller believes was released.
func (r *Registry) Release(ctx context.Context, sessionID string) {
	r.release(ctx, sessionID, r.closeTimeout)
}

// ForceRelease is a more aggressive Release with a shorter timeout, used
// when a handle is suspected to be wedged.
func (r *Registry) ForceRelease(ctx context.Context, sessionID string) {
	r.release(ctx, sessionID, r.forceTimeout)
}

func (r *Registry) release(ctx context.Context, sessionID string, timeout time.Duration) {
	r.mu.Lock()
	client, ok := r.clients[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- client.Close(closeCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			r.logger.Error("close failed", slog.String("session_id", sessionID), slog.Any("error", err))
		} else {
			r.logger.Info("handle closed", slog.String("session_id", sessionID))
		}
	case <-closeCtx.Done():
		r.logger.Warn("close timed out", slog.String("session_id", sessionID), slog.Duration("timeout", timeout))
	}

	r.mu.Lock()
	delete(r.clients, sessionID)
	remaining := len(r.clients)
	r.mu.Unlock()
	r.logger.Info("handle removed",
		slog.String("session_id", sessionID),
		slog.Int("remaining", remaining))
}

// CloseAll releases every registered session concurrently and waits for all
// of them to settle, success or failure.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	r.logger.Info("closing all handles", slog.Int("total", len(ids)))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			r.Release(ctx, sessionID)
		}(id)
	}
	wg.Wait()
}

// Sessions returns the ids of all registered sessions.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
