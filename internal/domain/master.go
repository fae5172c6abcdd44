package domain

import "time"

// Industry is one trade a master offers, with pricing and rating.
type Industry struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price,omitempty"`
	Star  float64 `json:"star,omitempty"`
}

// Master is a service provider profile as returned by the accounts API.
type Master struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email,omitempty"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	Picture      string     `json:"picture,omitempty"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	IsOnline     bool       `json:"is_online"`
	CreatedAt    time.Time  `json:"created_at"`
	Industries   []Industry `json:"industries,omitempty"`
	LikeCount    int        `json:"like_count"`
	DislikeCount int        `json:"dislike_count"`
}

// DisplayName returns the master's full name, falling back to the
// username.
func (m *Master) DisplayName() string {
	name := m.FirstName
	if m.LastName != "" {
		if name != "" {
			name += " "
		}
		name += m.LastName
	}
	if name == "" {
		return m.Username
	}
	return name
}
