package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestLoopbackCapturesToken(t *testing.T) {
	l, err := StartLoopback("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start loopback: %v", err)
	}
	defer func() { _ = l.Close() }()

	if !strings.HasSuffix(l.URL(), "/callback") {
		t.Errorf("expected a /callback redirect URL, got %q", l.URL())
	}

	resp, err := http.Get(l.URL())
	if err != nil {
		t.Fatalf("get callback page: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from callback, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(page), "/token?") {
		t.Error("expected the callback page to re-submit the fragment to /token")
	}

	tokenURL := strings.TrimSuffix(l.URL(), "/callback") + "/token?access_token=provider-tok"
	resp, err = http.Get(tokenURL)
	if err != nil {
		t.Fatalf("submit token: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from token submit, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tok, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if tok != "provider-tok" {
		t.Errorf("expected captured provider token, got %q", tok)
	}
}

func TestLoopbackRejectsEmptyToken(t *testing.T) {
	l, err := StartLoopback("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start loopback: %v", err)
	}
	defer func() { _ = l.Close() }()

	tokenURL := strings.TrimSuffix(l.URL(), "/callback") + "/token"
	resp, err := http.Get(tokenURL)
	if err != nil {
		t.Fatalf("submit empty token: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing access_token, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Wait(ctx); err == nil {
		t.Error("expected wait to time out with no captured token")
	}
}
