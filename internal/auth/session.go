package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odilbekov/ustabor/internal/domain"
)

// SessionManager is the single source of truth for "who is logged in".
// It starts unauthenticated and loading, and is mutated only by
// Reconcile, SetSession and EndSession.
type SessionManager struct {
	svc *Service

	mu      sync.RWMutex
	session domain.Session
	loading bool
	lastErr error
}

// NewSessionManager creates a session manager in the initial
// unauthenticated/loading state.
func NewSessionManager(svc *Service) *SessionManager {
	return &SessionManager{svc: svc, loading: true}
}

// Session returns a copy of the current session state.
func (m *SessionManager) Session() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Loading reports whether the first reconciliation has not completed.
func (m *SessionManager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Err returns the error flag left by the last failed reconciliation.
func (m *SessionManager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Reconcile re-derives the session from the server. Without a stored
// access token it sets unauthenticated and returns false with no
// network call. Failures are absorbed into state, never returned.
func (m *SessionManager) Reconcile(ctx context.Context) bool {
	m.mu.Lock()
	m.loading = true
	m.lastErr = nil
	m.mu.Unlock()

	access, err := m.svc.client.Tokens().Access(ctx)
	if err != nil || access == "" {
		if err != nil {
			slog.Warn("failed to read stored access token", "error", err)
		}
		m.clear(err)
		return false
	}

	user, err := m.svc.CurrentUser(ctx)
	if err != nil {
		slog.Warn("session reconciliation failed", "error", err)
		m.clear(err)
		return false
	}

	m.SetSession(user)
	return true
}

// SetSession installs an authenticated session after a successful
// login or registration, skipping the reconciliation round trip.
func (m *SessionManager) SetSession(user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = domain.Session{User: user, Authenticated: true}
	m.loading = false
	m.lastErr = nil
}

// EndSession logs out best-effort and clears local state. Local state
// is cleared even when the server calls fail.
func (m *SessionManager) EndSession(ctx context.Context) {
	if err := m.svc.Logout(ctx); err != nil {
		slog.Warn("logout cleanup failed", "error", err)
	}
	m.clear(nil)
}

func (m *SessionManager) clear(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = domain.Session{}
	m.loading = false
	m.lastErr = err
}
