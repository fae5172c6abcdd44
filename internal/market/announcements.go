// Package market provides the listing and master-profile endpoints.
package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/domain"
)

// Page is one page of a paginated listing response.
type Page[T any] struct {
	Results []T `json:"results"`
	Count   int `json:"count"`
}

// Service drives the marketplace browsing endpoints.
type Service struct {
	client *api.Client
}

// NewService creates a market service over client.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// Announcements lists job announcements, paged. filters are passed
// through as query parameters.
func (s *Service) Announcements(ctx context.Context, page int, filters url.Values) (*Page[domain.Announcement], error) {
	query := url.Values{}
	for k, vs := range filters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if page < 1 {
		page = 1
	}
	query.Set("page", strconv.Itoa(page))

	var out Page[domain.Announcement]
	if err := s.client.Get(ctx, "/announcements/", query, &out); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	return &out, nil
}

// Announcement fetches one listing by id.
func (s *Service) Announcement(ctx context.Context, id string) (*domain.Announcement, error) {
	var out domain.Announcement
	if err := s.client.Get(ctx, "/announcements/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &out, nil
}

// CreateAnnouncement posts a new listing.
func (s *Service) CreateAnnouncement(ctx context.Context, draft domain.AnnouncementDraft) (*domain.Announcement, error) {
	var out domain.Announcement
	if err := s.client.Post(ctx, "/announcements/", draft, &out); err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	return &out, nil
}

// UpdateAnnouncement patches a listing with the draft's fields.
func (s *Service) UpdateAnnouncement(ctx context.Context, id string, draft domain.AnnouncementDraft) (*domain.Announcement, error) {
	var out domain.Announcement
	if err := s.client.Patch(ctx, "/announcements/"+url.PathEscape(id)+"/", draft, &out); err != nil {
		return nil, fmt.Errorf("update announcement: %w", err)
	}
	return &out, nil
}

// DeleteAnnouncement removes a listing.
func (s *Service) DeleteAnnouncement(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, "/announcements/"+url.PathEscape(id)+"/"); err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

// UploadAnnouncementImage attaches an image to a listing via the
// multipart upload endpoint.
func (s *Service) UploadAnnouncementImage(ctx context.Context, id, fileName string, image []byte) (*domain.AnnouncementImage, error) {
	fields := map[string]string{"announcement_id": id}

	var out domain.AnnouncementImage
	if err := s.client.PostMultipart(ctx, "/images/", fields, "image", fileName, image, &out); err != nil {
		return nil, fmt.Errorf("upload announcement image: %w", err)
	}
	return &out, nil
}
