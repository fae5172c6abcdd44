// Package auth implements login flows and the process-wide session
// state.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/domain"
)

// RegisterData carries the registration form fields.
type RegisterData struct {
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	Role        domain.Role `json:"role"`
	FirstName   string      `json:"first_name,omitempty"`
	LastName    string      `json:"last_name,omitempty"`
	PhoneNumber string      `json:"phone_number,omitempty"`
}

// AuthResponse is the token-issuing response shape shared by login,
// registration and federated login.
type AuthResponse struct {
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	User    domain.User `json:"user"`
}

// Service drives the authentication endpoints.
type Service struct {
	client *api.Client
}

// NewService creates an auth service over client.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// Login exchanges username/password for a token pair, persists it and
// returns the authenticated user.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.User, error) {
	body := map[string]string{"username": username, "password": password}

	var resp AuthResponse
	if err := s.client.Public(ctx, http.MethodPost, "/api/token/", body, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if err := s.client.Tokens().Save(ctx, resp.Access, resp.Refresh); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Register creates an account. Tokens are persisted only when the
// backend issues them with the registration response.
func (s *Service) Register(ctx context.Context, data RegisterData) (*domain.User, error) {
	var resp AuthResponse
	if err := s.client.Public(ctx, http.MethodPost, "/accounts/register/", data, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	if resp.Access != "" && resp.Refresh != "" {
		if err := s.client.Tokens().Save(ctx, resp.Access, resp.Refresh); err != nil {
			return nil, err
		}
	}
	return &resp.User, nil
}

// GoogleLogin exchanges a provider access token for a backend token
// pair. The primary endpoint has a legacy fallback path that is tried
// when the primary one fails.
func (s *Service) GoogleLogin(ctx context.Context, providerToken string) (*domain.User, error) {
	body := map[string]string{"access_token": providerToken}

	var resp AuthResponse
	err := s.client.Public(ctx, http.MethodPost, "/api/google/login/", body, &resp)
	if err != nil {
		slog.Warn("google login primary endpoint failed, trying fallback", "error", err)
		resp = AuthResponse{}
		if fbErr := s.client.Public(ctx, http.MethodPost, "/api/google-login/", body, &resp); fbErr != nil {
			return nil, fmt.Errorf("google login: %w", fbErr)
		}
	}

	if resp.Access != "" {
		if err := s.client.Tokens().Save(ctx, resp.Access, resp.Refresh); err != nil {
			return nil, err
		}
	}
	return &resp.User, nil
}

// CurrentUser fetches the authenticated account for session
// reconciliation.
func (s *Service) CurrentUser(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := s.client.Get(ctx, "/accounts/user/", nil, &user); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return &user, nil
}

// Logout invalidates the server-side session best-effort and always
// clears the stored credential pair.
func (s *Service) Logout(ctx context.Context) error {
	refresh, err := s.client.Tokens().Refresh(ctx)
	if err != nil {
		slog.Warn("failed to load refresh token for logout", "error", err)
	}

	if err := s.client.Post(ctx, "/api/logout/", nil, nil); err != nil {
		slog.Warn("logout endpoint failed", "error", err)
	}
	if refresh != "" {
		body := map[string]string{"refresh_token": refresh}
		if err := s.client.Post(ctx, "/api/token/blacklist/", body, nil); err != nil {
			slog.Warn("token blacklist failed", "error", err)
		}
	}

	return s.client.Tokens().Clear(ctx)
}
