// Package codec defines the JSON frame exchanged with clients and over the
// bus, plus the sentinel discipline for server-side re-processing.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Actions are the wire values of the "action" field.
const (
	ActionLogin               = "addOnlineUser"
	ActionLogout              = "removeOnlineUser"
	ActionSendMessage         = "sendMessage"
	ActionPrintMessage        = "printMessage"
	ActionCall                = "call"
	ActionRooms               = "setRooms"
	ActionRefreshUser         = "setOnlineUsers"
	ActionSystemMessage       = "system"
	ActionGrowlMessage        = "growl"
	ActionGetMessages         = "messages"
	ActionCreateDirectChannel = "addDirectChannel"
	ActionDeleteRoom          = "deleteRoom"
	ActionCreateRoomChannel   = "addRoom"
	ActionInviteUser          = "inviteUser"
	ActionAddUser             = "addUserToAll"
)

// Handler tags steer the client-side dispatcher.
const (
	HandlerChannels = "channels"
	HandlerChat     = "chat"
	HandlerGrowl    = "growl"
	HandlerWebRTC   = "webrtc"
)

// Channel prefixes. u<userId> is per-user fan-in, r<roomId> is per-room fan-out.
const (
	UserChannelPrefix = 'u'
	RoomChannelPrefix = 'r'
)

// parsablePrefix marks a bus payload that receivers must re-process
// (run the post-hook for its action) instead of merely forwarding.
const parsablePrefix = 'p'

// Frame is the single JSON shape used in both directions. Zero fields are
// omitted on the wire, so one struct covers every action.
type Frame struct {
	Action       string `json:"action"`
	Handler      string `json:"handler,omitempty"`
	Content      any    `json:"content,omitempty"`
	Channel      string `json:"channel,omitempty"`
	RoomID       int64  `json:"roomId,omitempty"`
	UserID       int64  `json:"userId,omitempty"`
	ReceiverID   int64  `json:"receiverId,omitempty"`
	ReceiverName string `json:"receiverName,omitempty"`
	Time         int64  `json:"time,omitempty"`
	ID           int64  `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Users        any    `json:"users,omitempty"`
	Image        string `json:"image,omitempty"`
	Sex          string `json:"sex,omitempty"`
	User         string `json:"user,omitempty"`
	CallType     string `json:"type,omitempty"`
	Private      bool   `json:"private,omitempty"`

	// Inbound-only paging parameters for the messages action.
	HeaderID *int64 `json:"headerId,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// Encode serializes a frame to its client-bound JSON payload.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeClient parses an inbound client frame.
func DecodeClient(payload []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &f, nil
}

// Mark prefixes a JSON payload with the parsable sentinel byte.
func Mark(payload []byte) []byte {
	marked := make([]byte, 0, len(payload)+1)
	marked = append(marked, parsablePrefix)
	return append(marked, payload...)
}

// DecodeBus splits a bus payload into the raw client-bound JSON and, for
// marked payloads, the parsed frame whose post-hook must run. Unmarked
// payloads are forwarded verbatim with a nil frame.
func DecodeBus(payload []byte) (raw []byte, f *Frame, err error) {
	if len(payload) == 0 || payload[0] != parsablePrefix {
		return payload, nil, nil
	}
	raw = payload[1:]
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, nil, fmt.Errorf("malformed marked frame: %w", err)
	}
	return raw, &frame, nil
}

// UserChannel builds the per-user fan-in channel name.
func UserChannel(userID int64) string {
	return string(UserChannelPrefix) + strconv.FormatInt(userID, 10)
}

// RoomChannel builds the per-room fan-out channel name. The same key
// addresses the room's presence hash.
func RoomChannel(roomID int64) string {
	return string(RoomChannelPrefix) + strconv.FormatInt(roomID, 10)
}

// ParseChannel splits a channel name into its kind tag and target id.
func ParseChannel(channel string) (kind byte, id int64, err error) {
	if len(channel) < 2 {
		return 0, 0, fmt.Errorf("malformed channel %q", channel)
	}
	kind = channel[0]
	if kind != UserChannelPrefix && kind != RoomChannelPrefix {
		return 0, 0, fmt.Errorf("unknown channel kind %q", channel)
	}
	id, err = strconv.ParseInt(channel[1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, fmt.Errorf("malformed channel %q", channel)
	}
	return kind, id, nil
}
