// Package api provides the authenticated REST client for the Ustabor
// backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/odilbekov/ustabor/internal/token"
)

const refreshPath = "/api/token/refresh/"

// Client issues REST requests with credential attachment and
// transparent recovery from access-token expiry. At most one refresh
// call is in flight process-wide; concurrent 401s queue behind it.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	tokens  *token.Store

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult

	onAuthFailure func()
}

type refreshResult struct {
	access string
	err    error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithAuthFailureHandler installs a hook invoked once whenever a
// refresh fails and stored credentials are cleared. The CLI uses it to
// point the user back at login.
func WithAuthFailureHandler(fn func()) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

// NewClient creates an authenticated client for baseURL. apiKey may be
// empty; when set it is attached as X-API-Key on every request.
func NewClient(baseURL, apiKey string, tokens *token.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the client's token store.
func (c *Client) Tokens() *token.Store {
	return c.tokens
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request and decodes a 2xx JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Do issues one request with bearer and API-key attachment. On a 401 it
// coordinates a single refresh and retries the request exactly once
// with the new token; it never recurses further.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	access, err := c.tokens.Access(ctx)
	if err != nil {
		return err
	}

	status, respBody, err := c.roundTrip(ctx, method, path, query, body, access)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		newAccess, refreshErr := c.refreshAccess(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		status, respBody, err = c.roundTrip(ctx, method, path, query, body, newAccess)
		if err != nil {
			return err
		}
	}

	return decode(status, respBody, out)
}

// Public issues a request without bearer attachment and without the
// 401 refresh path. Login, registration and the refresh exchange use
// it; a stale stored token must not leak into credential issuance.
func (c *Client) Public(ctx context.Context, method, path string, body, out any) error {
	status, respBody, err := c.roundTrip(ctx, method, path, nil, body, "")
	if err != nil {
		return err
	}
	return decode(status, respBody, out)
}

// PostMultipart issues a POST with a multipart form carrying fields and
// one file part. Used by the announcement image upload endpoint.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file []byte, out any) error {
	access, err := c.tokens.Access(ctx)
	if err != nil {
		return err
	}

	build := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("write form field %s: %w", k, err)
			}
		}
		fw, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := fw.Write(file); err != nil {
			return nil, "", fmt.Errorf("write form file: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, "", fmt.Errorf("finish multipart form: %w", err)
		}
		return &buf, mw.FormDataContentType(), nil
	}

	status, respBody, err := c.rawRequest(ctx, http.MethodPost, path, nil, access, build)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		newAccess, refreshErr := c.refreshAccess(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		status, respBody, err = c.rawRequest(ctx, http.MethodPost, path, nil, newAccess, build)
		if err != nil {
			return err
		}
	}

	return decode(status, respBody, out)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any, access string) (int, []byte, error) {
	build := func() (io.Reader, string, error) {
		if body == nil {
			return nil, "", nil
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(payload), "application/json", nil
	}
	return c.rawRequest(ctx, method, path, query, access, build)
}

func (c *Client) rawRequest(ctx context.Context, method, path string, query url.Values, access string, build func() (io.Reader, string, error)) (int, []byte, error) {
	reader, contentType, err := build()
	if err != nil {
		return 0, nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", errdefs.ErrUnavailable, method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", errdefs.ErrUnavailable, err)
	}
	return resp.StatusCode, respBody, nil
}

func decode(status int, body []byte, out any) error {
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// refreshAccess performs the single-flight token refresh. The first
// caller to observe a 401 exchanges the refresh token; everyone else
// queues as a waiter and is resumed with the shared outcome.
func (c *Client) refreshAccess(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case res := <-ch:
			return res.access, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	access, err := c.doRefresh(ctx)

	c.mu.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{access: access, err: err}
	}
	return access, err
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refresh, err := c.tokens.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if refresh == "" {
		return "", c.failAuth(ctx, fmt.Errorf("%w: no refresh token available", errdefs.ErrUnauthenticated))
	}

	// The refresh exchange bypasses bearer attachment; a stale access
	// token must not poison it.
	body := map[string]string{"refresh": refresh}
	status, respBody, err := c.roundTrip(ctx, http.MethodPost, refreshPath, nil, body, "")
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		slog.Warn("token refresh rejected", "status", status)
		return "", c.failAuth(ctx, fmt.Errorf("%w: refresh rejected with status %d", errdefs.ErrUnauthenticated, status))
	}

	var payload struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil || payload.Access == "" {
		return "", c.failAuth(ctx, fmt.Errorf("%w: malformed refresh response", errdefs.ErrUnauthenticated))
	}

	if err := c.tokens.SetAccess(ctx, payload.Access); err != nil {
		return "", err
	}
	slog.Debug("access token refreshed")
	return payload.Access, nil
}

// failAuth clears stored credentials and fires the auth-failure hook.
func (c *Client) failAuth(ctx context.Context, cause error) error {
	if err := c.tokens.Clear(ctx); err != nil {
		slog.Warn("failed to clear credentials after auth failure", "error", err)
	}
	if c.onAuthFailure != nil {
		c.onAuthFailure()
	}
	return cause
}
