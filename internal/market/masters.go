package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/odilbekov/ustabor/internal/domain"
)

// IndustryRequest carries the fields for attaching a trade to a master
// profile.
type IndustryRequest struct {
	IndustryID int64   `json:"industry_id"`
	Price      float64 `json:"price,omitempty"`
	Internship string  `json:"internship,omitempty"`
}

// Masters lists service providers, paged. filters are passed through as
// query parameters; the MASTER role filter is always applied.
func (s *Service) Masters(ctx context.Context, page int, filters url.Values) (*Page[domain.Master], error) {
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
	query.Set("role", string(domain.RoleMaster))

	var out Page[domain.Master]
	if err := s.client.Get(ctx, "/accounts/users/", query, &out); err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	return &out, nil
}

// Master fetches one provider profile by id.
func (s *Service) Master(ctx context.Context, id int64) (*domain.Master, error) {
	var out domain.Master
	if err := s.client.Get(ctx, fmt.Sprintf("/accounts/users/%d/", id), nil, &out); err != nil {
		return nil, fmt.Errorf("get master: %w", err)
	}
	return &out, nil
}

// MasterIndustries fetches the trades a master offers.
func (s *Service) MasterIndustries(ctx context.Context, id int64) ([]domain.Industry, error) {
	var out []domain.Industry
	if err := s.client.Get(ctx, fmt.Sprintf("/industry/user/%d/", id), nil, &out); err != nil {
		return nil, fmt.Errorf("get master industries: %w", err)
	}
	return out, nil
}

// AddIndustry attaches a trade to the signed-in master's profile.
func (s *Service) AddIndustry(ctx context.Context, req IndustryRequest) (*domain.Industry, error) {
	var out domain.Industry
	if err := s.client.Post(ctx, "/industry/user/", req, &out); err != nil {
		return nil, fmt.Errorf("add industry: %w", err)
	}
	return &out, nil
}

// UpdateIndustry patches a trade entry on the signed-in master's
// profile.
func (s *Service) UpdateIndustry(ctx context.Context, id int64, req IndustryRequest) (*domain.Industry, error) {
	var out domain.Industry
	if err := s.client.Patch(ctx, fmt.Sprintf("/industry/user/%d/", id), req, &out); err != nil {
		return nil, fmt.Errorf("update industry: %w", err)
	}
	return &out, nil
}

// RemoveIndustry detaches a trade from the signed-in master's profile.
func (s *Service) RemoveIndustry(ctx context.Context, id int64) error {
	if err := s.client.Delete(ctx, fmt.Sprintf("/industry/user/%d/", id)); err != nil {
		return fmt.Errorf("remove industry: %w", err)
	}
	return nil
}

// RateMaster records a like or dislike for a master.
func (s *Service) RateMaster(ctx context.Context, masterID int64, like bool) error {
	body := map[string]any{"master": masterID, "is_like": like}
	if err := s.client.Post(ctx, "/accounts/like/", body, nil); err != nil {
		return fmt.Errorf("rate master: %w", err)
	}
	return nil
}
