package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/domain"
	"github.com/odilbekov/ustabor/internal/store"
	"github.com/odilbekov/ustabor/internal/token"
)

type backend struct {
	router    *chi.Mux
	userCalls atomic.Int32
}

// newBackend fakes the auth endpoints: /api/token/ issues a pair for
// one known user, /accounts/user/ serves the account behind the bearer.
func newBackend(t *testing.T, user domain.User) *backend {
	t.Helper()
	b := &backend{router: chi.NewRouter()}

	b.router.Post("/api/token/", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil ||
			body.Username != user.Username || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{
			"access":  "acc-1",
			"refresh": "ref-1",
			"user":    user,
		})
	})
	b.router.Get("/accounts/user/", func(w http.ResponseWriter, req *http.Request) {
		b.userCalls.Add(1)
		if req.Header.Get("Authorization") != "Bearer acc-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, user)
	})

	return b
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, baseURL string) *api.Client {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	tokens := token.NewStore(repo, 24*time.Hour, 7*24*time.Hour)
	return api.NewClient(baseURL, "", tokens)
}

func TestLoginThenReconcile(t *testing.T) {
	user := domain.User{ID: 7, Username: "usta", Role: domain.RoleMaster, IsActive: true}
	b := newBackend(t, user)
	srv := httptest.NewServer(b.router)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	svc := NewService(client)
	mgr := NewSessionManager(svc)
	ctx := context.Background()

	if !mgr.Loading() {
		t.Error("expected manager to start in loading state")
	}
	if mgr.Session().Authenticated {
		t.Error("expected manager to start unauthenticated")
	}

	got, err := svc.Login(ctx, "usta", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != 7 {
		t.Errorf("expected user 7 from login, got %d", got.ID)
	}
	mgr.SetSession(got)

	sess := mgr.Session()
	if !sess.Authenticated || sess.UserID() != 7 {
		t.Errorf("expected authenticated session for user 7, got %+v", sess)
	}
	if mgr.Loading() {
		t.Error("expected loading cleared after SetSession")
	}

	// A fresh manager over the same persisted tokens reconciles to the
	// same account, as a new process start would.
	mgr2 := NewSessionManager(svc)
	if !mgr2.Reconcile(ctx) {
		t.Fatalf("reconcile: expected success, err=%v", mgr2.Err())
	}
	if mgr2.Session().UserID() != 7 {
		t.Errorf("expected reconciled session for user 7, got %+v", mgr2.Session())
	}
}

func TestReconcileWithoutTokenSkipsNetwork(t *testing.T) {
	user := domain.User{ID: 7, Username: "usta", Role: domain.RoleMaster}
	b := newBackend(t, user)
	srv := httptest.NewServer(b.router)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	mgr := NewSessionManager(NewService(client))

	if mgr.Reconcile(context.Background()) {
		t.Error("expected reconcile to fail without stored tokens")
	}
	if b.userCalls.Load() != 0 {
		t.Errorf("expected no account fetch without a token, got %d calls", b.userCalls.Load())
	}
	if mgr.Loading() {
		t.Error("expected loading cleared after reconcile")
	}
	if mgr.Session().Authenticated {
		t.Error("expected unauthenticated session")
	}
}

func TestReconcileFailureAbsorbedIntoState(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/accounts/user/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()
	if err := client.Tokens().Save(ctx, "acc-1", "ref-1"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	mgr := NewSessionManager(NewService(client))
	if mgr.Reconcile(ctx) {
		t.Error("expected reconcile to fail")
	}
	if mgr.Err() == nil {
		t.Error("expected the failure recorded in state")
	}
	if mgr.Session().Authenticated {
		t.Error("expected unauthenticated session after failure")
	}
}

func TestEndSessionClearsStateDespiteServerFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/logout/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	r.Post("/api/token/blacklist/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()
	if err := client.Tokens().Save(ctx, "acc-1", "ref-1"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}

	mgr := NewSessionManager(NewService(client))
	mgr.SetSession(&domain.User{ID: 7, Username: "usta"})

	mgr.EndSession(ctx)

	if mgr.Session().Authenticated {
		t.Error("expected unauthenticated session after EndSession")
	}
	access, err := client.Tokens().Access(ctx)
	if err != nil {
		t.Fatalf("load access: %v", err)
	}
	if access != "" {
		t.Errorf("expected credentials cleared, got access %q", access)
	}
}
