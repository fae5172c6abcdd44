// Package store provides local state persistence for the client.
package store

import (
	"context"

	"github.com/odilbekov/ustabor/internal/domain"
)

// Store defines the interface for the client's local state database:
// the credential pair plus offline caches of conversations and chat
// previews.
type Store interface {
	// SaveCredentials persists the token pair, replacing any existing one.
	SaveCredentials(ctx context.Context, creds *domain.Credentials) error

	// UpdateAccessToken replaces only the access token after a refresh.
	UpdateAccessToken(ctx context.Context, access string, expiresAt int64) error

	// Credentials returns the stored token pair, or nil when none is stored.
	Credentials(ctx context.Context) (*domain.Credentials, error)

	// DeleteCredentials removes the stored token pair.
	DeleteCredentials(ctx context.Context) error

	// CacheMessages replaces the cached history for one conversation.
	CacheMessages(ctx context.Context, key domain.ConversationKey, msgs []domain.Message) error

	// AppendCachedMessage adds one live message to a cached conversation.
	AppendCachedMessage(ctx context.Context, key domain.ConversationKey, msg domain.Message) error

	// CachedMessages returns the cached history for one conversation in
	// stored order.
	CachedMessages(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error)

	// SavePreviews replaces the cached active-chats listing.
	SavePreviews(ctx context.Context, previews []domain.ChatPreview) error

	// Previews returns the cached active-chats listing, most recent first.
	Previews(ctx context.Context) ([]domain.ChatPreview, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
