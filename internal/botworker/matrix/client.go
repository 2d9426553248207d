// Package matrix provides the Matrix client used for audit room notices.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Configured reports whether enough is set to talk to a homeserver.
func (c Config) Configured() bool {
	return c.Homeserver != "" && c.UserID != "" && c.AccessToken != ""
}

// Client wraps the mautrix client. It only sends; it never syncs.
type Client struct {
	client *mautrix.Client
}

// New creates a new Matrix client.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	return &Client{client: client}, nil
}

// JoinRoom joins roomID so notices can be posted there.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if _, err := c.client.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		// Homeservers answer M_FORBIDDEN when we are already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join refused, assuming membership", "room", roomID)
			return nil
		}
		return fmt.Errorf("failed to join room %s: %w", roomID, err)
	}
	return nil
}

// SendNotice posts an m.notice message, which clients render without
// triggering notifications for bots.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}
