// Package chat hosts the per-connection protocol: inbound action dispatch,
// room and direct-channel lifecycle, the message pipeline, and the bus
// listener that fans frames back to sockets.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftchat/driftchat/internal/v1/store"
)

// Bus is the subset of bus operations the chat layer needs: publishing and
// the per-room presence hashes.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// SubscriberLink is one connection's dedicated subscriber. Channels can be
// added and removed while the listen loop runs.
type SubscriberLink interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Listen(ctx context.Context, handler func(channel string, payload []byte))
	Close() error
}

// Store is the persistence surface the protocol handlers use.
type Store interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	RoomsWithUsers(ctx context.Context, userID int64) ([]store.RoomUserRow, error)
	RoomUsers(ctx context.Context, roomID int64) ([]store.User, error)
	CreateRoom(ctx context.Context, name *string) (int64, error)
	GetRoom(ctx context.Context, id int64) (*store.Room, error)
	CreateMembership(ctx context.Context, roomID, userID int64) error
	DeleteRoomMember(ctx context.Context, roomID, userID int64) error
	DisableRoom(ctx context.Context, roomID int64) error
	ClearRoomDisabled(ctx context.Context, roomID int64) error
	DirectRoom(ctx context.Context, userA, userB int64) (*store.DirectRoom, error)
	InsertMessage(ctx context.Context, m *store.Message) error
	MessagesBefore(ctx context.Context, viewerID int64, headerID *int64, limit int) ([]store.Message, error)
}

// SessionResolver maps a session cookie value to a user id.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionKey string) (int64, error)
}

// JoinRecorder records (user, ip) connection events in the background.
type JoinRecorder interface {
	RecordJoin(ctx context.Context, userID int64, ip string)
}

// ImageExtractor turns inbound image payloads into stored asset URLs.
type ImageExtractor interface {
	Extract(ctx context.Context, data string) (string, error)
}

// PassthroughImages embeds the inbound payload as the asset URL unchanged.
// Deployments with real asset storage plug their own extractor into the hub.
type PassthroughImages struct{}

func (PassthroughImages) Extract(_ context.Context, data string) (string, error) {
	return data, nil
}

// ValidationError is a client-caused protocol violation. It is surfaced to
// the offending socket as a growl frame and never closes the connection.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a client-caused protocol violation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
