package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/domain"
	"github.com/odilbekov/ustabor/internal/store"
)

// Service drives the chat REST endpoints and channel dialing, and
// keeps the offline cache current.
type Service struct {
	client *api.Client
	store  store.Store
	wsURL  string
}

// NewService creates a chat service.
func NewService(client *api.Client, st store.Store, wsURL string) *Service {
	return &Service{client: client, store: st, wsURL: wsURL}
}

func historyPath(key domain.ConversationKey) string {
	return fmt.Sprintf("/chat/history/%s/%d/%d/", key.AnnouncementID, key.MasterID, key.ClientID)
}

// History fetches the full ordered history for one conversation and
// refreshes the local cache. When the backend is unreachable the last
// cached snapshot is served instead.
func (s *Service) History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.client.Get(ctx, historyPath(key), nil, &msgs)
	if err != nil {
		if api.IsTransport(err) {
			cached, cacheErr := s.store.CachedMessages(ctx, key)
			if cacheErr == nil && len(cached) > 0 {
				slog.Info("serving cached history, backend unreachable", "conversation", key.String())
				return cached, nil
			}
		}
		return nil, err
	}

	if cacheErr := s.store.CacheMessages(ctx, key, msgs); cacheErr != nil {
		slog.Warn("failed to cache history", "error", cacheErr, "conversation", key.String())
	}
	return msgs, nil
}

// ActiveChats fetches the conversation previews for the signed-in user
// and refreshes the preview cache, falling back to the cache when the
// backend is unreachable.
func (s *Service) ActiveChats(ctx context.Context) ([]domain.ChatPreview, error) {
	var previews []domain.ChatPreview
	err := s.client.Get(ctx, "/chat/get_active_chats/", nil, &previews)
	if err != nil {
		if api.IsTransport(err) {
			cached, cacheErr := s.store.Previews(ctx)
			if cacheErr == nil && len(cached) > 0 {
				slog.Info("serving cached chat previews, backend unreachable")
				return cached, nil
			}
		}
		return nil, err
	}

	if cacheErr := s.store.SavePreviews(ctx, previews); cacheErr != nil {
		slog.Warn("failed to cache chat previews", "error", cacheErr)
	}
	return previews, nil
}

// SendREST posts a message over the REST fallback path, used when the
// caller has no open channel.
func (s *Service) SendREST(ctx context.Context, key domain.ConversationKey, text string) (*domain.Message, error) {
	body := map[string]any{
		"connect_announcement": key.AnnouncementID,
		"master":               key.MasterID,
		"client":               key.ClientID,
		"message":              text,
	}

	var msg domain.Message
	if err := s.client.Post(ctx, "/chat/", body, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// OpenChannel dials the conversation socket using the stored access
// token as the connection credential.
func (s *Service) OpenChannel(ctx context.Context, key domain.ConversationKey) (*Channel, error) {
	access, err := s.client.Tokens().Access(ctx)
	if err != nil {
		return nil, err
	}
	return DialChannel(ctx, s.wsURL, key, access)
}

// CacheLive appends one delivered live message to the conversation
// cache so the next offline view includes it.
func (s *Service) CacheLive(ctx context.Context, key domain.ConversationKey, msg domain.Message) {
	if err := s.store.AppendCachedMessage(ctx, key, msg); err != nil {
		slog.Warn("failed to cache live message", "error", err, "conversation", key.String())
	}
}
