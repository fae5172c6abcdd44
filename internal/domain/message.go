package domain

import (
	"fmt"
	"time"
)

// ConversationKey identifies one chat thread between a master and a
// client about one announcement. Immutable for the lifetime of a chat
// view.
type ConversationKey struct {
	AnnouncementID string
	MasterID       int64
	ClientID       int64
}

// String renders the key in path form, e.g. "a1b2/7/42".
func (k ConversationKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.AnnouncementID, k.MasterID, k.ClientID)
}

// IsParticipant reports whether userID is one of the two conversation
// participants. Viewers that are neither may not open the thread.
func (k ConversationKey) IsParticipant(userID int64) bool {
	return userID != 0 && (userID == k.MasterID || userID == k.ClientID)
}

// PartnerID returns the participant that is not viewerID.
func (k ConversationKey) PartnerID(viewerID int64) int64 {
	if viewerID == k.MasterID {
		return k.ClientID
	}
	return k.MasterID
}

// Participant carries the embedded participant details the history
// endpoint attaches to every message.
type Participant struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   string `json:"picture"`
}

// DisplayName returns the participant's full name, falling back to the
// username.
func (p Participant) DisplayName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if name == "" {
		return p.Username
	}
	return name
}

// Message is one chat message. At least one of Text/Image is present
// for a sent message. SenderID may be zero on partial live events; the
// view model then falls back to a role-based authorship guess.
type Message struct {
	ID             int64       `json:"id"`
	AnnouncementID string      `json:"connect_announcement"`
	MasterID       int64       `json:"master"`
	MasterDetails  Participant `json:"master_details"`
	ClientID       int64       `json:"client"`
	ClientDetails  Participant `json:"client_details"`
	Text           string      `json:"message"`
	Image          string      `json:"image,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	SenderID       int64       `json:"sender_id,omitempty"`
}

// Key returns the conversation key the message belongs to.
func (m *Message) Key() ConversationKey {
	return ConversationKey{
		AnnouncementID: m.AnnouncementID,
		MasterID:       m.MasterID,
		ClientID:       m.ClientID,
	}
}

// ChatPreview is one row of the active-chats listing.
type ChatPreview struct {
	ID              int64       `json:"id"`
	AnnouncementID  string      `json:"connect_announcement"`
	MasterID        int64       `json:"master"`
	MasterDetails   Participant `json:"master_details"`
	ClientID        int64       `json:"client"`
	ClientDetails   Participant `json:"client_details"`
	LastMessage     string      `json:"last_message"`
	LastMessageTime time.Time   `json:"last_message_time"`
	UnreadCount     int         `json:"unread_count"`
}

// Partner returns the details of the participant that is not the viewer.
func (p *ChatPreview) Partner(viewerID int64) Participant {
	if viewerID == p.MasterID {
		return p.ClientDetails
	}
	return p.MasterDetails
}

// Key returns the conversation key for the previewed thread.
func (p *ChatPreview) Key() ConversationKey {
	return ConversationKey{
		AnnouncementID: p.AnnouncementID,
		MasterID:       p.MasterID,
		ClientID:       p.ClientID,
	}
}
