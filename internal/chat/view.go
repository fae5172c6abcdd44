package chat

import (
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/odilbekov/ustabor/internal/domain"
)

// View assembles the initial history and the live stream of one
// conversation into an ordered, date-grouped message list. Messages
// are append-only for the lifetime of a view.
type View struct {
	key    domain.ConversationKey
	viewer domain.Session

	messages []domain.Message
	partner  *domain.Participant
}

// DayGroup is the messages of one calendar day, in list order.
type DayGroup struct {
	Date     time.Time
	Messages []domain.Message
}

// NewView creates a view for key. The viewer must be one of the two
// conversation participants; anyone else gets a permission error
// before any history fetch or channel dial happens.
func NewView(key domain.ConversationKey, viewer domain.Session) (*View, error) {
	if !viewer.Authenticated {
		return nil, fmt.Errorf("%w: sign in to open a conversation", errdefs.ErrUnauthenticated)
	}
	if !key.IsParticipant(viewer.UserID()) {
		return nil, fmt.Errorf("%w: user %d is not a participant of conversation %s",
			errdefs.ErrPermissionDenied, viewer.UserID(), key.String())
	}
	return &View{key: key, viewer: viewer}, nil
}

// Key returns the conversation key.
func (v *View) Key() domain.ConversationKey {
	return v.key
}

// SetHistory installs the fetched history in server-returned order and
// derives the partner identity from the first message's embedded
// participant details. With empty history the partner stays unresolved
// until the first live message arrives.
func (v *View) SetHistory(msgs []domain.Message) {
	v.messages = append([]domain.Message(nil), msgs...)
	if len(msgs) > 0 {
		v.resolvePartnerFrom(&msgs[0])
	}
}

// Append adds one live event to the list, after all history. The
// server is the sole source of listed messages; locally sent text is
// never echoed by the view itself.
func (v *View) Append(ev Event) domain.Message {
	msg := domain.Message{
		ID:             ev.ChatID,
		AnnouncementID: v.key.AnnouncementID,
		MasterID:       v.key.MasterID,
		MasterDetails:  domain.Participant{ID: v.key.MasterID},
		ClientID:       v.key.ClientID,
		ClientDetails:  domain.Participant{ID: v.key.ClientID},
		Text:           ev.Text,
		Image:          ev.Image,
		CreatedAt:      ev.Timestamp,
		SenderID:       ev.SenderID,
	}
	v.messages = append(v.messages, msg)
	if v.partner == nil {
		// Live frames carry ids only; the name and picture stay empty
		// until a history fetch fills them in.
		v.resolvePartnerFrom(&msg)
	}
	return msg
}

// Messages returns the current list in render order.
func (v *View) Messages() []domain.Message {
	return v.messages
}

// Partner returns the conversation partner's details, or nil while
// unresolved.
func (v *View) Partner() *domain.Participant {
	return v.partner
}

// IsMine reports message authorship. A message is the viewer's when
// its sender id matches the session user id; a missing sender id falls
// back to comparing the viewer's role against the conversation's
// master/client slots.
func (v *View) IsMine(msg *domain.Message) bool {
	if msg.SenderID != 0 {
		return msg.SenderID == v.viewer.UserID()
	}
	if v.viewer.User != nil && v.viewer.User.IsMaster() {
		return v.viewer.UserID() == v.key.MasterID
	}
	return v.viewer.UserID() == v.key.ClientID
}

// DayGroups partitions the list by calendar date in the viewer's local
// time zone. Groups are ordered chronologically by date; messages
// within a group keep list order.
func (v *View) DayGroups() []DayGroup {
	var groups []DayGroup
	index := make(map[string]int)

	for _, msg := range v.messages {
		y, m, d := msg.CreatedAt.Local().Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
		dayKey := day.Format(time.DateOnly)

		i, ok := index[dayKey]
		if !ok {
			i = len(groups)
			index[dayKey] = i
			groups = append(groups, DayGroup{Date: day})
		}
		groups[i].Messages = append(groups[i].Messages, msg)
	}

	// History arrives chronologically, but a stray out-of-order day
	// must not break the earliest-first group order.
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j].Date.Before(groups[j-1].Date); j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
	return groups
}

// ShowAvatar reports whether the partner's avatar is rendered next to
// message i of a group: only when the previous message in the same
// group has a different sender.
func (v *View) ShowAvatar(group DayGroup, i int) bool {
	if i == 0 {
		return true
	}
	return group.Messages[i-1].SenderID != group.Messages[i].SenderID
}

func (v *View) resolvePartnerFrom(msg *domain.Message) {
	if v.partner != nil {
		return
	}
	if v.viewer.UserID() == msg.MasterID {
		p := msg.ClientDetails
		v.partner = &p
		return
	}
	p := msg.MasterDetails
	v.partner = &p
}
