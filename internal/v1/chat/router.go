package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/metrics"
)

type frameHandler func(ctx context.Context, f *codec.Frame) error

// initRoutes wires the two dispatch tables: pre-process handlers run on
// inbound client frames, post-process handlers run after a marked frame loops
// back from the bus so every node can update its own connection state.
func (c *Client) initRoutes() {
	c.pre = map[string]frameHandler{
		codec.ActionGetMessages:         c.processGetMessages,
		codec.ActionSendMessage:         c.processSendMessage,
		codec.ActionCall:                c.processCall,
		codec.ActionCreateDirectChannel: c.createDirectChannel,
		codec.ActionCreateRoomChannel:   c.createRoomChannel,
		codec.ActionInviteUser:          c.inviteUser,
		codec.ActionDeleteRoom:          c.deleteRoom,
	}
	c.post = map[string]frameHandler{
		codec.ActionCreateDirectChannel: c.onChannelCreated,
		codec.ActionCreateRoomChannel:   c.onChannelCreated,
		codec.ActionInviteUser:          c.onChannelCreated,
		codec.ActionDeleteRoom:          c.onChannelDeleted,
	}
}

// dispatch routes one inbound frame. Validation failures growl back to the
// sender; anything else is an internal error, logged and growled generically.
func (c *Client) dispatch(ctx context.Context, f *codec.Frame) {
	handler, ok := c.pre[f.Action]
	if !ok {
		metrics.InboundFrames.WithLabelValues(f.Action, "unknown").Inc()
		c.growl("event " + f.Action + " is unknown")
		return
	}

	err := handler(ctx, f)
	switch {
	case err == nil:
		metrics.InboundFrames.WithLabelValues(f.Action, "ok").Inc()
	case IsValidation(err):
		metrics.InboundFrames.WithLabelValues(f.Action, "rejected").Inc()
		c.growl(err.Error())
	default:
		metrics.InboundFrames.WithLabelValues(f.Action, "error").Inc()
		logging.Error(ctx, "handler failed", zap.String("action", f.Action), zap.Error(err))
		c.growl("Internal server error")
	}
}

// postProcess runs the subscription bookkeeping hook for a marked frame.
// Unmapped actions were plain-forwarded already and need nothing here.
func (c *Client) postProcess(ctx context.Context, f *codec.Frame) {
	handler, ok := c.post[f.Action]
	if !ok {
		return
	}
	if err := handler(ctx, f); err != nil {
		logging.Error(ctx, "post-hook failed", zap.String("action", f.Action), zap.Error(err))
	}
}
