package chat

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/utils/set"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/config"
	"github.com/driftchat/driftchat/internal/v1/presence"
	"github.com/driftchat/driftchat/internal/v1/store"
)

type publishRec struct {
	channel string
	payload []byte
}

// fakeBus records publishes and keeps hashes in memory. It satisfies both the
// chat Bus and the presence Hash surfaces.
type fakeBus struct {
	mu        sync.Mutex
	published []publishRec
	hashes    map[string]map[string]string
}

func newFakeBus() *fakeBus {
	return &fakeBus{hashes: map[string]map[string]string{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.published = append(b.published, publishRec{channel: channel, payload: cp})
	return nil
}

func (b *fakeBus) HSet(_ context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hashes[key] == nil {
		b.hashes[key] = map[string]string{}
	}
	b.hashes[key][field] = value
	return nil
}

func (b *fakeBus) HDel(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range fields {
		delete(b.hashes[key], f)
	}
	return nil
}

func (b *fakeBus) HGetAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]string{}
	for k, v := range b.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (b *fakeBus) sent(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, rec := range b.published {
		if rec.channel == channel {
			out = append(out, rec.payload)
		}
	}
	return out
}

func (b *fakeBus) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// fakeLink records the channel set of one subscriber.
type fakeLink struct {
	mu     sync.Mutex
	subs   set.Set[string]
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{subs: set.New[string]()}
}

func (l *fakeLink) Subscribe(_ context.Context, channels ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs.Insert(channels...)
	return nil
}

func (l *fakeLink) Unsubscribe(_ context.Context, channels ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs.Delete(channels...)
	return nil
}

func (l *fakeLink) Listen(context.Context, func(string, []byte)) {}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) has(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs.Has(channel)
}

// fakeStore is an in-memory Store good enough for handler semantics.
type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]*store.User
	rooms      map[int64]*store.Room
	members    map[int64]map[int64]bool
	messages   []store.Message
	nextRoomID int64
	nextMsgID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[int64]*store.User{},
		rooms:      map[int64]*store.Room{},
		members:    map[int64]map[int64]bool{},
		nextRoomID: 100,
		nextMsgID:  1,
	}
}

func (s *fakeStore) addUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *fakeStore) addRoom(r store.Room, memberIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := r
	s.rooms[r.ID] = &room
	s.members[r.ID] = map[int64]bool{}
	for _, id := range memberIDs {
		s.members[r.ID][id] = true
	}
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) RoomsWithUsers(_ context.Context, userID int64) ([]store.RoomUserRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []store.RoomUserRow
	roomIDs := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Slice(roomIDs, func(i, j int) bool { return roomIDs[i] < roomIDs[j] })
	for _, roomID := range roomIDs {
		room := s.rooms[roomID]
		if room.Disabled != nil && *room.Disabled {
			continue
		}
		if !s.members[roomID][userID] {
			continue
		}
		for memberID := range s.members[roomID] {
			u := s.users[memberID]
			if u == nil {
				continue
			}
			rows = append(rows, store.RoomUserRow{
				UserID: u.ID, Username: u.Username, Sex: u.Sex,
				RoomID: roomID, RoomName: room.Name,
			})
		}
	}
	return rows, nil
}

func (s *fakeStore) RoomUsers(_ context.Context, roomID int64) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.User
	for id := range s.members[roomID] {
		if u := s.users[id]; u != nil {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) CreateRoom(_ context.Context, name *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextRoomID
	s.nextRoomID++
	s.rooms[id] = &store.Room{ID: id, Name: name, IsPrivate: name == nil}
	s.members[id] = map[int64]bool{}
	return id, nil
}

func (s *fakeStore) GetRoom(_ context.Context, id int64) (*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) CreateMembership(_ context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = map[int64]bool{}
	}
	if s.members[roomID][userID] {
		return store.ErrAlreadyMember
	}
	s.members[roomID][userID] = true
	return nil
}

func (s *fakeStore) DeleteRoomMember(_ context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[roomID], userID)
	return nil
}

func (s *fakeStore) DisableRoom(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		disabled := true
		r.Disabled = &disabled
	}
	return nil
}

func (s *fakeStore) ClearRoomDisabled(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.Disabled = nil
	}
	return nil
}

func (s *fakeStore) DirectRoom(_ context.Context, userA, userB int64) (*store.DirectRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rooms {
		if r.Name != nil {
			continue
		}
		if s.members[id][userA] && s.members[id][userB] {
			return &store.DirectRoom{ID: id, Disabled: r.Disabled}, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) InsertMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextMsgID
	s.nextMsgID++
	m.Time = nowMillis()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeStore) MessagesBefore(_ context.Context, viewerID int64, headerID *int64, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.ReceiverID != nil && m.SenderID != viewerID && *m.ReceiverID != viewerID {
			continue
		}
		if headerID != nil && m.ID >= *headerID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type noopRecorder struct{}

func (noopRecorder) RecordJoin(context.Context, int64, string) {}

type harness struct {
	bus *fakeBus
	st  *fakeStore
	hub *Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		MaxMessageSize:    1000,
		AllRoomID:         1,
		Genders:           []string{"Secret", "Male", "Female"},
		SessionCookieName: "sessionid",
	}
	fb := newFakeBus()
	fs := newFakeStore()
	spam, err := NewSpamPolicy(cfg.MaxMessageSize, "")
	require.NoError(t, err)

	return &harness{
		bus: fb,
		st:  fs,
		hub: &Hub{
			cfg:      cfg,
			bus:      fb,
			store:    fs,
			presence: presence.New(fb),
			geo:      noopRecorder{},
			images:   PassthroughImages{},
			spam:     spam,
			newLink:  func(context.Context) SubscriberLink { return newFakeLink() },
		},
	}
}

// client builds a connected client subscribed to its own user channel plus
// the given room channels, without running the socket pumps.
func (h *harness) client(userID int64, username, sexLabel string, channels ...string) *Client {
	c := newClient(h.hub, nil, userID, "")
	c.username = username
	c.sexLabel = sexLabel
	c.sub = newFakeLink()
	c.resetChannels(append([]string{codec.UserChannel(userID)}, channels...))
	c.setConnected(true)
	return c
}

// recvFrame pops the next frame queued for the socket.
func recvFrame(t *testing.T, c *Client) *codec.Frame {
	t.Helper()
	select {
	case payload := <-c.send:
		f, err := codec.DecodeClient(payload)
		require.NoError(t, err)
		return f
	default:
		t.Fatal("no frame queued for socket")
		return nil
	}
}

func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected frame queued: %s", payload)
	default:
	}
}

// busFrame decodes one published payload, reporting whether it was marked.
func busFrame(t *testing.T, payload []byte) (*codec.Frame, bool) {
	t.Helper()
	raw, f, err := codec.DecodeBus(payload)
	require.NoError(t, err)
	if f != nil {
		return f, true
	}
	f, err = codec.DecodeClient(raw)
	require.NoError(t, err)
	return f, false
}
