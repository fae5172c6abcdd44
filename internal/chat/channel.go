// Package chat provides the real-time conversation channel and the
// chat view model.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/containerd/errdefs"
	"github.com/odilbekov/ustabor/internal/domain"
)

// Event is one inbound frame from the conversation socket.
type Event struct {
	ChatID    int64
	Text      string
	Image     string
	Timestamp time.Time
	SenderID  int64
}

// inboundFrame matches the server's wire shape. sender_id arrives as a
// number or a string depending on the producing path.
type inboundFrame struct {
	ChatID    int64           `json:"chat_id"`
	Message   string          `json:"message"`
	Image     string          `json:"image,omitempty"`
	Timestamp string          `json:"timestamp"`
	SenderID  json.RawMessage `json:"sender_id"`
}

type outboundFrame struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

type channelState int

const (
	stateOpen channelState = iota
	stateClosed
)

// Channel is the duplex transport for exactly one conversation. One
// channel exists per mounted chat view; there is no reconnect-on-drop,
// a dropped channel requires opening a new one.
type Channel struct {
	conn   *websocket.Conn
	key    domain.ConversationKey
	events chan Event

	mu      sync.Mutex
	state   channelState
	readErr error
}

// DialChannel opens the conversation socket for key, authenticating
// with the access token as a connection-time query credential.
func DialChannel(ctx context.Context, wsURL string, key domain.ConversationKey, accessToken string) (*Channel, error) {
	u := fmt.Sprintf("%s/ws/chat/%s/%d/%d/?token=%s",
		strings.TrimSuffix(wsURL, "/"),
		url.PathEscape(key.AnnouncementID), key.MasterID, key.ClientID,
		url.QueryEscape(accessToken),
	)

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial conversation socket: %v", errdefs.ErrUnavailable, err)
	}
	// Image frames are data URLs and can be large.
	conn.SetReadLimit(8 << 20)

	ch := &Channel{
		conn:   conn,
		key:    key,
		events: make(chan Event, 32),
	}
	go ch.readLoop()

	slog.Info("conversation channel open", "conversation", key.String())
	return ch, nil
}

// Key returns the conversation this channel is scoped to.
func (c *Channel) Key() domain.ConversationKey {
	return c.key
}

// Events returns the inbound event stream. It is closed when the
// channel drops; Err then reports why.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Err returns the error that ended the read loop, or nil after a clean
// local Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Send transmits a text message. It fails without transmitting when
// the channel is not open; no outbound queueing or retry is performed.
func (c *Channel) Send(ctx context.Context, text string) error {
	return c.write(ctx, outboundFrame{Message: text})
}

// SendImage transmits an encoded image with an empty text body.
func (c *Channel) SendImage(ctx context.Context, encoded string) error {
	return c.write(ctx, outboundFrame{Message: "", Image: encoded})
}

func (c *Channel) write(ctx context.Context, frame outboundFrame) error {
	c.mu.Lock()
	open := c.state == stateOpen
	c.mu.Unlock()
	if !open {
		return fmt.Errorf("%w: conversation channel is not open", errdefs.ErrUnavailable)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write frame: %v", errdefs.ErrUnavailable, err)
	}
	return nil
}

// Close tears the channel down. Closing an already-dropped channel is
// a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()

	if err := c.conn.Close(websocket.StatusNormalClosure, "view closed"); err != nil {
		slog.Debug("failed to close conversation socket", "error", err, "conversation", c.key.String())
	}
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			wasOpen := c.state == stateOpen
			c.state = stateClosed
			if wasOpen {
				c.readErr = fmt.Errorf("%w: conversation channel dropped: %v", errdefs.ErrUnavailable, err)
			}
			c.mu.Unlock()

			if wasOpen && websocket.CloseStatus(err) == -1 {
				slog.Warn("conversation socket read error", "error", err, "conversation", c.key.String())
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("dropping malformed inbound frame", "error", err, "conversation", c.key.String())
			continue
		}
		c.events <- decodeFrame(frame)
	}
}

func decodeFrame(frame inboundFrame) Event {
	ev := Event{
		ChatID: frame.ChatID,
		Text:   frame.Message,
		Image:  frame.Image,
	}
	if ts, err := time.Parse(time.RFC3339, frame.Timestamp); err == nil {
		ev.Timestamp = ts
	} else {
		ev.Timestamp = time.Now()
	}
	ev.SenderID = parseSenderID(frame.SenderID)
	return ev
}

func parseSenderID(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
