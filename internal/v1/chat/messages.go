package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/metrics"
	"github.com/driftchat/driftchat/internal/v1/store"
)

const defaultHistoryCount = 10

// processSendMessage persists one message and publishes its broadcast frame.
// The channel field is authoritative for routing: u<id> makes it a direct
// message, r<id> a room message cross-checked against the subscribed set.
// The publish happens only after the insert returns.
func (c *Client) processSendMessage(ctx context.Context, f *codec.Frame) error {
	content, _ := f.Content.(string)

	kind, targetID, err := codec.ParseChannel(f.Channel)
	if err != nil {
		return validationf("Access denied for channel %s", f.Channel)
	}

	m := &store.Message{SenderID: c.userID, Content: content}
	switch kind {
	case codec.UserChannelPrefix:
		m.ReceiverID = &targetID
	case codec.RoomChannelPrefix:
		if !c.hasChannel(f.Channel) {
			return validationf("Access denied for channel %s", f.Channel)
		}
		m.RoomID = &targetID
	}

	if f.Image != "" {
		url, err := c.hub.images.Extract(ctx, f.Image)
		if err != nil {
			return fmt.Errorf("image extraction failed: %w", err)
		}
		m.Image = &url
	}

	if m.ReceiverID != nil {
		receiver, err := c.hub.store.GetUser(ctx, *m.ReceiverID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return validationf("Access denied for channel %s", f.Channel)
			}
			return err
		}
		m.ReceiverName = &receiver.Username
	}

	if err := c.hub.store.InsertMessage(ctx, m); err != nil {
		return err
	}
	metrics.MessagesPersisted.Inc()

	out := printMessage(m)
	if m.ReceiverID == nil {
		return c.publish(ctx, out, f.Channel, false)
	}

	// Direct: own channel first so the sender's other tabs see it, then the
	// receiver unless it is a message to self.
	own := codec.UserChannel(c.userID)
	if err := c.publish(ctx, out, own, false); err != nil {
		return err
	}
	if f.Channel != own {
		return c.publish(ctx, out, f.Channel, false)
	}
	return nil
}

// processGetMessages answers a history page to the requesting socket only.
// A supplied headerId restricts to ids strictly below it.
func (c *Client) processGetMessages(ctx context.Context, f *codec.Frame) error {
	count := f.Count
	if count <= 0 {
		count = defaultHistoryCount
	}
	msgs, err := c.hub.store.MessagesBefore(ctx, c.userID, f.HeaderID, count)
	if err != nil {
		return err
	}
	c.sendFrame(messagesFrame(msgs))
	return nil
}

// processCall relays a call offer to the receiver's user channel. Calls are
// never persisted.
func (c *Client) processCall(ctx context.Context, f *codec.Frame) error {
	if f.ReceiverID <= 0 {
		return validationf("Unknown call receiver")
	}
	return c.publish(ctx, c.offerCall(f.Content, f.CallType), codec.UserChannel(f.ReceiverID), false)
}
