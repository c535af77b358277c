package chat

import (
	"time"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/store"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// userEntry is the client-side member shape used in setRooms, inviteUser and
// addUserToAll frames.
type userEntry struct {
	Name string `json:"user"`
	Sex  string `json:"sex"`
}

// roomEntry is one room of the setRooms payload: display name (nil for direct
// rooms) plus its members keyed by user id.
type roomEntry struct {
	Name  *string             `json:"name"`
	Users map[int64]userEntry `json:"users"`
}

// buildRooms folds the rooms-with-members rows into the setRooms payload.
func buildRooms(rows []store.RoomUserRow, label func(int) string) map[int64]roomEntry {
	rooms := make(map[int64]roomEntry)
	for _, row := range rows {
		entry, ok := rooms[row.RoomID]
		if !ok {
			entry = roomEntry{Name: row.RoomName, Users: map[int64]userEntry{}}
		}
		entry.Users[row.UserID] = userEntry{Name: row.Username, Sex: label(row.Sex)}
		rooms[row.RoomID] = entry
	}
	return rooms
}

// defaultFrame is the base shape every self-describing frame starts from.
func (c *Client) defaultFrame(content any, action, handler string) *codec.Frame {
	return &codec.Frame{
		Action:  action,
		Content: content,
		UserID:  c.userID,
		Time:    nowMillis(),
		Handler: handler,
	}
}

// roomOnline carries a presence transition (login, logout, refresh) together
// with the full online list for the channel.
func (c *Client) roomOnline(online []int64, action, channel string) *codec.Frame {
	f := c.defaultFrame(online, action, codec.HandlerChat)
	f.Channel = channel
	f.User = c.username
	f.Sex = c.sexLabel
	return f
}

func (c *Client) offerCall(content any, callType string) *codec.Frame {
	f := c.defaultFrame(content, codec.ActionCall, codec.HandlerWebRTC)
	f.CallType = callType
	return f
}

func (c *Client) growlFrame(msg string) *codec.Frame {
	return c.defaultFrame(msg, codec.ActionGrowlMessage, codec.HandlerGrowl)
}

// printMessage converts a persisted message into its broadcast frame. The
// channel is derived from the receiver/room split; image and receiver fields
// are present only when set.
func printMessage(m *store.Message) *codec.Frame {
	f := &codec.Frame{
		Action:  codec.ActionPrintMessage,
		Handler: codec.HandlerChat,
		UserID:  m.SenderID,
		Content: m.Content,
		Time:    m.Time,
		ID:      m.ID,
	}
	switch {
	case m.ReceiverID != nil:
		f.Channel = codec.UserChannel(*m.ReceiverID)
		f.ReceiverID = *m.ReceiverID
		if m.ReceiverName != nil {
			f.ReceiverName = *m.ReceiverName
		}
	case m.RoomID != nil:
		f.Channel = codec.RoomChannel(*m.RoomID)
	}
	if m.Image != nil {
		f.Image = *m.Image
	}
	return f
}

// messagesFrame wraps a history page, newest first, for one requester.
func messagesFrame(msgs []store.Message) *codec.Frame {
	frames := make([]*codec.Frame, 0, len(msgs))
	for i := range msgs {
		frames = append(frames, printMessage(&msgs[i]))
	}
	return &codec.Frame{Action: codec.ActionGetMessages, Content: frames}
}

// directChannelFrame is the marked subscribe instruction for a new direct
// room, published to both members' user channels.
func (c *Client) directChannelFrame(roomID, otherID int64) *codec.Frame {
	return &codec.Frame{
		Action:  codec.ActionCreateDirectChannel,
		Handler: codec.HandlerChannels,
		RoomID:  roomID,
		Users:   []int64{c.userID, otherID},
	}
}

// roomChannelFrame is the marked subscribe instruction for a freshly created
// public room, published to the creator's user channel.
func (c *Client) roomChannelFrame(roomID int64, name string) *codec.Frame {
	return &codec.Frame{
		Action:  codec.ActionCreateRoomChannel,
		Handler: codec.HandlerChannels,
		RoomID:  roomID,
		Name:    name,
		Users:   []int64{c.userID},
	}
}

// inviteFrame is the marked subscribe instruction sent to an invited user,
// carrying the room's full member map.
func inviteFrame(roomID, userID int64, roomName string, users map[int64]userEntry) *codec.Frame {
	return &codec.Frame{
		Action:  codec.ActionInviteUser,
		Handler: codec.HandlerChannels,
		RoomID:  roomID,
		UserID:  userID,
		Name:    roomName,
		Content: users,
	}
}

// addUserFrame announces a new member on the room channel.
func addUserFrame(channel string, userID int64, entry userEntry) *codec.Frame {
	return &codec.Frame{
		Action:  codec.ActionAddUser,
		Handler: codec.HandlerChat,
		Channel: channel,
		UserID:  userID,
		User:    entry.Name,
		Sex:     entry.Sex,
	}
}

// deleteRoomFrame is the marked unsubscribe instruction broadcast on the
// room channel when a room is removed.
func (c *Client) deleteRoomFrame(roomID int64) *codec.Frame {
	return &codec.Frame{
		Action:  codec.ActionDeleteRoom,
		Handler: codec.HandlerChannels,
		RoomID:  roomID,
		UserID:  c.userID,
		Time:    nowMillis(),
	}
}
