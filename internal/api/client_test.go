package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/odilbekov/ustabor/internal/domain"
	"github.com/odilbekov/ustabor/internal/token"
)

// memSource is an in-memory token.Source for client tests.
type memSource struct {
	mu    sync.Mutex
	creds *domain.Credentials
}

func (m *memSource) SaveCredentials(_ context.Context, creds *domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *creds
	m.creds = &cp
	return nil
}

func (m *memSource) UpdateAccessToken(_ context.Context, access string, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		m.creds.AccessToken = access
		m.creds.AccessExpiresAt = time.Unix(expiresAt, 0)
	}
	return nil
}

func (m *memSource) Credentials(_ context.Context) (*domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	cp := *m.creds
	return &cp, nil
}

func (m *memSource) DeleteCredentials(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

func (m *memSource) empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds == nil
}

func seededTokens(t *testing.T, access, refresh string) (*token.Store, *memSource) {
	t.Helper()
	src := &memSource{}
	tokens := token.NewStore(src, 24*time.Hour, 7*24*time.Hour)
	if err := tokens.Save(context.Background(), access, refresh); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	return tokens, src
}

func TestSingleFlightRefresh(t *testing.T) {
	const concurrent = 8
	const freshAccess = "fresh-access"

	var refreshCalls, protectedHits atomic.Int32
	release := make(chan struct{})

	r := chi.NewRouter()
	r.Post("/api/token/refresh/", func(w http.ResponseWriter, req *http.Request) {
		refreshCalls.Add(1)
		// Hold the refresh until every request has observed its 401.
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access":"` + freshAccess + `"}`))
	})
	r.Get("/protected", func(w http.ResponseWriter, req *http.Request) {
		protectedHits.Add(1)
		if req.Header.Get("Authorization") != "Bearer "+freshAccess {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens, _ := seededTokens(t, "stale-access", "refresh-1")
	client := NewClient(srv.URL, "", tokens)

	go func() {
		for protectedHits.Load() < concurrent {
			time.Sleep(time.Millisecond)
		}
		// Let every caller move from its 401 into the refresh queue.
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out struct {
				OK bool `json:"ok"`
			}
			errs[i] = client.Get(context.Background(), "/protected", nil, &out)
			if errs[i] == nil && !out.OK {
				t.Errorf("request %d: expected ok response", i)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", got)
	}

	access, err := tokens.Access(context.Background())
	if err != nil {
		t.Fatalf("load access token: %v", err)
	}
	if access != freshAccess {
		t.Errorf("expected refreshed token persisted, got %q", access)
	}
}

func TestRefreshFailureFailsAllWaiters(t *testing.T) {
	const concurrent = 5

	var refreshCalls, protectedHits atomic.Int32
	release := make(chan struct{})

	r := chi.NewRouter()
	r.Post("/api/token/refresh/", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	r.Get("/protected", func(w http.ResponseWriter, _ *http.Request) {
		protectedHits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens, src := seededTokens(t, "stale-access", "refresh-1")

	var hookFired atomic.Int32
	client := NewClient(srv.URL, "", tokens, WithAuthFailureHandler(func() {
		hookFired.Add(1)
	}))

	go func() {
		for protectedHits.Load() < concurrent {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "/protected", nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("request %d: expected error", i)
		}
		if !IsAuthenticationRequired(err) {
			t.Errorf("request %d: expected authentication error, got %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", got)
	}
	if !src.empty() {
		t.Error("expected credentials cleared after refresh failure")
	}
	if hookFired.Load() == 0 {
		t.Error("expected auth-failure hook to fire")
	}
}

func TestNoRefreshWithoutRefreshToken(t *testing.T) {
	var refreshCalls atomic.Int32

	r := chi.NewRouter()
	r.Post("/api/token/refresh/", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	r.Get("/protected", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	src := &memSource{}
	tokens := token.NewStore(src, 24*time.Hour, 7*24*time.Hour)
	client := NewClient(srv.URL, "", tokens)

	err := client.Get(context.Background(), "/protected", nil, nil)
	if !IsAuthenticationRequired(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Error("expected no refresh call without a stored refresh token")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens, _ := seededTokens(t, "acc", "ref")
	client := NewClient(srv.URL, "", tokens)
	ctx := context.Background()

	if err := client.Get(ctx, "/forbidden", nil, nil); !IsForbidden(err) {
		t.Errorf("expected forbidden classification, got %v", err)
	}
	if err := client.Get(ctx, "/missing", nil, nil); !IsNotFound(err) {
		t.Errorf("expected not-found classification, got %v", err)
	}

	err := client.Get(ctx, "/broken", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
		t.Errorf("expected status error 500, got %v", err)
	}

	srv.Close()
	if err := client.Get(ctx, "/forbidden", nil, nil); !IsTransport(err) {
		t.Errorf("expected transport classification after server close, got %v", err)
	}
}

func TestHeaderAttachment(t *testing.T) {
	var gotAuth, gotKey, gotPublicAuth string

	r := chi.NewRouter()
	r.Get("/echo", func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotKey = req.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/public", func(w http.ResponseWriter, req *http.Request) {
		gotPublicAuth = req.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	tokens, _ := seededTokens(t, "acc-1", "ref-1")
	client := NewClient(srv.URL, "key-1", tokens)
	ctx := context.Background()

	if err := client.Get(ctx, "/echo", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotAuth != "Bearer acc-1" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotKey != "key-1" {
		t.Errorf("expected api key header, got %q", gotKey)
	}

	if err := client.Public(ctx, http.MethodPost, "/public", nil, nil); err != nil {
		t.Fatalf("public post: %v", err)
	}
	if gotPublicAuth != "" {
		t.Errorf("expected no bearer on public request, got %q", gotPublicAuth)
	}
}
