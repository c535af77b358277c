package chat

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/store"
)

const maxRoomNameSymbols = 16

// createRoomChannel inserts a named public room with the creator as its only
// member and publishes a marked addRoom frame to the creator's own channel.
// The post-hook subscribes the socket and joins presence.
func (c *Client) createRoomChannel(ctx context.Context, f *codec.Frame) error {
	name := f.Name
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameSymbols {
		return validationf("Incorrect room name %q", name)
	}

	roomID, err := c.hub.store.CreateRoom(ctx, &name)
	if err != nil {
		return err
	}
	if err := c.hub.store.CreateMembership(ctx, roomID, c.userID); err != nil {
		return err
	}
	return c.publish(ctx, c.roomChannelFrame(roomID, name), codec.UserChannel(c.userID), true)
}

// createDirectChannel opens (or revives) the direct room between the caller
// and another user. Concurrent requests for the same pair are serialized so
// only one room can ever exist per pair.
func (c *Client) createDirectChannel(ctx context.Context, f *codec.Frame) error {
	other := f.UserID
	if other <= 0 {
		return validationf("Unknown user")
	}

	unlock := c.hub.pairs.lock(pairKey(c.userID, other))
	defer unlock()

	var roomID int64
	room, err := c.hub.store.DirectRoom(ctx, c.userID, other)
	switch {
	case err == nil:
		if room.Disabled == nil {
			return validationf("This room already exist")
		}
		// Revive the tombstoned room so the pair keeps its original id
		if err := c.hub.store.ClearRoomDisabled(ctx, room.ID); err != nil {
			return err
		}
		roomID = room.ID
	case errors.Is(err, store.ErrNotFound):
		roomID, err = c.hub.store.CreateRoom(ctx, nil)
		if err != nil {
			return err
		}
		if err := c.hub.store.CreateMembership(ctx, roomID, c.userID); err != nil {
			return err
		}
		if other != c.userID {
			if err := c.hub.store.CreateMembership(ctx, roomID, other); err != nil {
				return err
			}
		}
	default:
		return err
	}

	out := c.directChannelFrame(roomID, other)
	own := codec.UserChannel(c.userID)
	if err := c.publish(ctx, out, own, true); err != nil {
		return err
	}
	if otherChannel := codec.UserChannel(other); otherChannel != own {
		return c.publish(ctx, out, otherChannel, true)
	}
	return nil
}

// inviteUser adds a user to a public room the inviter is subscribed to. The
// room hears addUserToAll; the invitee gets a marked inviteUser frame whose
// post-hook subscribes their connections.
func (c *Client) inviteUser(ctx context.Context, f *codec.Frame) error {
	roomID, invitee := f.RoomID, f.UserID
	channel := codec.RoomChannel(roomID)
	if !c.hasChannel(channel) {
		return validationf("Access denied, only allowed for channels %v", c.channelList())
	}

	room, err := c.hub.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.IsPrivate {
		return validationf("You can't add users to direct room, create a new room instead")
	}

	if err := c.hub.store.CreateMembership(ctx, roomID, invitee); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return validationf("User is already in channel")
		}
		return err
	}

	members, err := c.hub.store.RoomUsers(ctx, roomID)
	if err != nil {
		return err
	}
	users := make(map[int64]userEntry, len(members))
	for _, u := range members {
		users[u.ID] = userEntry{Name: u.Username, Sex: c.hub.cfg.GenderLabel(u.Sex)}
	}

	if err := c.publish(ctx, addUserFrame(channel, invitee, users[invitee]), channel, false); err != nil {
		return err
	}
	roomName := ""
	if room.Name != nil {
		roomName = *room.Name
	}
	return c.publish(ctx, inviteFrame(roomID, invitee, roomName, users), codec.UserChannel(invitee), true)
}

// deleteRoom soft-deletes a room the caller is subscribed to. Direct rooms
// are tombstoned; public rooms drop the caller's membership and broadcast an
// updated logout list. Either way the marked deleteRoom frame makes every
// member connection unsubscribe via its post-hook.
func (c *Client) deleteRoom(ctx context.Context, f *codec.Frame) error {
	roomID := f.RoomID
	channel := codec.RoomChannel(roomID)
	if !c.hasChannel(channel) || roomID == c.hub.cfg.AllRoomID {
		return validationf("You are not allowed to delete this room")
	}

	room, err := c.hub.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Disabled != nil {
		return validationf("Room is already deleted")
	}

	if room.Name == nil {
		if err := c.hub.store.DisableRoom(ctx, roomID); err != nil {
			return err
		}
	} else {
		if err := c.hub.store.DeleteRoomMember(ctx, roomID, c.userID); err != nil {
			return err
		}
		online, err := c.hub.presence.Online(ctx, roomID)
		if err != nil {
			return err
		}
		remaining := make([]int64, 0, len(online))
		for _, id := range online {
			if id != c.userID {
				remaining = append(remaining, id)
			}
		}
		if err := c.publish(ctx, c.roomOnline(remaining, codec.ActionLogout, channel), channel, false); err != nil {
			return err
		}
	}

	return c.publish(ctx, c.deleteRoomFrame(roomID), channel, true)
}

// onChannelCreated is the post-hook for addRoom, addDirectChannel and
// inviteUser loop-backs: subscribe this connection to the room channel and
// join presence. Duplicate loop-backs (a direct room to self arrives once per
// member channel) are ignored.
func (c *Client) onChannelCreated(ctx context.Context, f *codec.Frame) error {
	channel := codec.RoomChannel(f.RoomID)
	if c.hasChannel(channel) {
		return nil
	}
	c.addChannel(channel)
	if err := c.sub.Subscribe(ctx, channel); err != nil {
		return err
	}
	c.joinRoom(ctx, f.RoomID)
	return nil
}

// onChannelDeleted is the deleteRoom post-hook: unsubscribe, drop the
// presence field, forget the channel.
func (c *Client) onChannelDeleted(ctx context.Context, f *codec.Frame) error {
	channel := codec.RoomChannel(f.RoomID)
	if !c.hasChannel(channel) {
		return nil
	}
	if err := c.sub.Unsubscribe(ctx, channel); err != nil {
		return err
	}
	if err := c.hub.bus.HDel(ctx, channel, c.connID); err != nil {
		return err
	}
	c.removeChannel(channel)
	return nil
}
