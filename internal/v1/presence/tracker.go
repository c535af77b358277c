// Package presence maintains the per-room online mapping in the bus: one hash
// per room keyed like the room channel, fields = connection ids, values =
// user ids. The hash is a grow-set keyed by connection id — writes are
// idempotent, deletes are by stable key, and the online list is a projection
// over the values, so no locking is needed across processes.
package presence

import (
	"context"
	"strconv"

	"k8s.io/utils/set"

	"github.com/driftchat/driftchat/internal/v1/codec"
)

// Hash is the subset of bus operations the tracker needs.
type Hash interface {
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Tracker derives per-room online user lists and the multi-tab login/logout
// decisions from the room hashes.
type Tracker struct {
	hash Hash
}

// New creates a Tracker over the given bus hash operations.
func New(hash Hash) *Tracker {
	return &Tracker{hash: hash}
}

// Join registers a connection in the room hash. first is true when no other
// connection of the same user was present, i.e. the caller must broadcast a
// login; otherwise only the joining socket needs a refresh. The returned
// list includes the joining user.
func (t *Tracker) Join(ctx context.Context, roomID int64, connID string, userID int64) (online []int64, first bool, err error) {
	key := codec.RoomChannel(roomID)

	entries, err := t.hash.HGetAll(ctx, key)
	if err != nil {
		return nil, false, err
	}
	users := parseUsers(entries)
	first = !users.Has(userID)

	if err := t.hash.HSet(ctx, key, connID, strconv.FormatInt(userID, 10)); err != nil {
		return nil, false, err
	}

	users.Insert(userID)
	return users.SortedList(), first, nil
}

// Leave removes the connection's field and reports whether the user still has
// another live connection in the room. The returned list reflects the hash
// after removal.
func (t *Tracker) Leave(ctx context.Context, roomID int64, connID string, userID int64) (online []int64, stillOnline bool, err error) {
	key := codec.RoomChannel(roomID)

	if err := t.hash.HDel(ctx, key, connID); err != nil {
		return nil, false, err
	}

	entries, err := t.hash.HGetAll(ctx, key)
	if err != nil {
		return nil, false, err
	}
	users := parseUsers(entries)
	return users.SortedList(), users.Has(userID), nil
}

// Online returns the distinct user ids currently present in the room.
func (t *Tracker) Online(ctx context.Context, roomID int64) ([]int64, error) {
	entries, err := t.hash.HGetAll(ctx, codec.RoomChannel(roomID))
	if err != nil {
		return nil, err
	}
	return parseUsers(entries).SortedList(), nil
}

// parseUsers projects hash values onto the distinct user id set. Fields with
// unparsable values are skipped; orphaned entries from crashed processes do
// no harm until the next logout sweep.
func parseUsers(entries map[string]string) set.Set[int64] {
	users := set.New[int64]()
	for _, raw := range entries {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		users.Insert(id)
	}
	return users
}
