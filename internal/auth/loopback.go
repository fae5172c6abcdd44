package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Loopback is a short-lived localhost listener that captures the
// provider access token at the end of a browser-based federated login.
// The provider redirects with the token in the URL fragment, which
// never reaches the server, so /callback serves a page that re-submits
// the fragment as a query to /token.
type Loopback struct {
	srv     *http.Server
	ln      net.Listener
	tokenCh chan string
}

const callbackPage = `<!DOCTYPE html>
<html><body><script>
var h = window.location.hash;
if (h && h.length > 1) {
  window.location.replace("/token?" + h.substring(1));
} else {
  document.body.textContent = "No token in redirect.";
}
</script></body></html>`

// StartLoopback begins listening on addr ("127.0.0.1:0" picks a free
// port). The caller must Close it.
func StartLoopback(addr string) (*Loopback, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on loopback: %w", err)
	}

	l := &Loopback{ln: ln, tokenCh: make(chan string, 1)}

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(callbackPage)); err != nil {
			slog.Debug("failed to write callback page", "error", err)
		}
	})
	r.Get("/token", func(w http.ResponseWriter, req *http.Request) {
		tok := req.URL.Query().Get("access_token")
		if tok == "" {
			http.Error(w, "missing access_token", http.StatusBadRequest)
			return
		}
		select {
		case l.tokenCh <- tok:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte("Login complete. You may close this window.")); err != nil {
			slog.Debug("failed to write token response", "error", err)
		}
	})

	l.srv = &http.Server{Handler: r, ReadTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("loopback listener stopped", "error", err)
		}
	}()

	return l, nil
}

// URL returns the redirect URL to hand to the provider.
func (l *Loopback) URL() string {
	return fmt.Sprintf("http://%s/callback", l.ln.Addr().String())
}

// Wait blocks until a provider token arrives or ctx expires.
func (l *Loopback) Wait(ctx context.Context) (string, error) {
	select {
	case tok := <-l.tokenCh:
		return tok, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close shuts the listener down.
func (l *Loopback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.srv.Shutdown(ctx)
}
