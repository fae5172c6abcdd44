// Package token manages the persisted bearer credential pair.
package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/odilbekov/ustabor/internal/domain"
)

// Source is the persistence the token store writes through. The SQLite
// state store satisfies it.
type Source interface {
	SaveCredentials(ctx context.Context, creds *domain.Credentials) error
	UpdateAccessToken(ctx context.Context, access string, expiresAt int64) error
	Credentials(ctx context.Context) (*domain.Credentials, error)
	DeleteCredentials(ctx context.Context) error
}

// Store persists and serves the access/refresh token pair. An access
// token whose JWT exp claim is already past is treated as absent so a
// guaranteed 401 round trip is skipped; tokens that do not decode as
// JWTs keep their configured expiry and the 401 path stays
// authoritative.
type Store struct {
	src        Source
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewStore creates a token store over src. accessTTL and refreshTTL are
// the fallback lifetimes used when a token carries no readable exp
// claim (~1 day and ~7 days for this backend).
func NewStore(src Source, accessTTL, refreshTTL time.Duration) *Store {
	return &Store{
		src:        src,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Save stores a freshly issued token pair.
func (s *Store) Save(ctx context.Context, access, refresh string) error {
	now := s.now()
	creds := &domain.Credentials{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  expiryOf(access, now.Add(s.accessTTL)),
		RefreshExpiresAt: expiryOf(refresh, now.Add(s.refreshTTL)),
	}
	if err := s.src.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// SetAccess replaces only the access token after a successful refresh.
func (s *Store) SetAccess(ctx context.Context, access string) error {
	exp := expiryOf(access, s.now().Add(s.accessTTL))
	if err := s.src.UpdateAccessToken(ctx, access, exp.Unix()); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	return nil
}

// Access returns the stored access token, or "" when none is stored or
// the stored one is already past its expiry.
func (s *Store) Access(ctx context.Context) (string, error) {
	creds, err := s.src.Credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return "", nil
	}
	if !s.now().Before(creds.AccessExpiresAt) {
		return "", nil
	}
	return creds.AccessToken, nil
}

// Refresh returns the stored refresh token, or "" when none is usable.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	creds, err := s.src.Credentials(ctx)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || !creds.RefreshUsable(s.now()) {
		return "", nil
	}
	return creds.RefreshToken, nil
}

// Clear removes the stored pair.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.src.DeleteCredentials(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// expiryOf reads the exp claim from a JWT without verifying its
// signature (the client has no signing secret). fallback is used for
// opaque or malformed tokens.
func expiryOf(tok string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

// SubjectID reads the user id from a JWT, or 0 when the token is opaque
// or carries no readable id. The backend issues a numeric user_id
// claim; sub is checked as a fallback.
func SubjectID(tok string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return 0
	}
	if raw, ok := claims["user_id"]; ok {
		if n, ok := raw.(float64); ok {
			return int64(n)
		}
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
