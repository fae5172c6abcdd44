package domain

import "time"

// Location is a GeoJSON point attached to an announcement.
type Location struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// AnnouncementImage is an uploaded image reference.
type AnnouncementImage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Announcement is a job listing posted by a client.
type Announcement struct {
	ID          string              `json:"id"`
	GUID        string              `json:"guid,omitempty"`
	Name        string              `json:"name"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Client      Participant         `json:"client"`
	Location    *Location           `json:"location,omitempty"`
	Address     string              `json:"address,omitempty"`
	Slug        string              `json:"slug,omitempty"`
	Images      []AnnouncementImage `json:"images,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	IsActive    bool                `json:"is_active"`
}

// AnnouncementDraft carries the fields a client submits when creating
// or updating a listing.
type AnnouncementDraft struct {
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Address     string    `json:"address,omitempty"`
}
