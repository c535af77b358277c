package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/driftchat/driftchat/internal/v1/codec"
	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// wsConnection is the socket surface the client uses; *websocket.Conn
// satisfies it, tests plug in fakes.
type wsConnection interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client supervises one socket: its subscriber link, subscribed channel set,
// presence entries, and the inbound/outbound pumps. Identity is fixed at
// handshake time.
type Client struct {
	connID   string
	userID   int64
	username string
	sexLabel string
	ip       string

	hub  *Hub
	sock wsConnection
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	channels  set.Set[string]
	connected bool

	sub  SubscriberLink
	pre  map[string]frameHandler
	post map[string]frameHandler

	closeOnce sync.Once
}

func newClient(h *Hub, sock wsConnection, userID int64, ip string) *Client {
	c := &Client{
		connID:   uuid.NewString(),
		userID:   userID,
		ip:       ip,
		hub:      h,
		sock:     sock,
		send:     make(chan []byte, sendBuffer),
		channels: set.New[string](),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx = logging.WithConn(ctx, c.connID, userID)
	c.cancel = cancel
	c.initRoutes()
	return c
}

// open runs the handshake sequence: load the profile, send setRooms, connect
// the subscriber link for the user channel plus every room channel, then join
// presence per room. The ip record upsert runs in the background.
func (c *Client) open(ctx context.Context) error {
	user, err := c.hub.store.GetUser(ctx, c.userID)
	if err != nil {
		return err
	}
	c.username = user.Username
	c.sexLabel = c.hub.cfg.GenderLabel(user.Sex)

	rows, err := c.hub.store.RoomsWithUsers(ctx, c.userID)
	if err != nil {
		return err
	}
	rooms := buildRooms(rows, c.hub.cfg.GenderLabel)
	c.sendFrame(c.defaultFrame(rooms, codec.ActionRooms, codec.HandlerChannels))

	roomIDs := make([]int64, 0, len(rooms))
	for id := range rooms {
		roomIDs = append(roomIDs, id)
	}
	channels := make([]string, 0, len(roomIDs)+1)
	channels = append(channels, codec.UserChannel(c.userID))
	for _, id := range roomIDs {
		channels = append(channels, codec.RoomChannel(id))
	}
	c.resetChannels(channels)

	c.sub = c.hub.newLink(c.ctx)
	if err := c.sub.Subscribe(ctx, channels...); err != nil {
		return err
	}
	c.sub.Listen(c.ctx, c.onBusMessage)

	for _, id := range roomIDs {
		c.joinRoom(ctx, id)
	}
	c.setConnected(true)
	logging.Info(ctx, "connection open", zap.String("user", c.username), zap.Strings("channels", channels))

	if c.ip != "" {
		go c.hub.geo.RecordJoin(logging.WithConn(context.Background(), c.connID, c.userID), c.userID, c.ip)
	}
	return nil
}

// joinRoom writes the presence entry and emits either a login broadcast
// (first tab of this user in the room) or a private refresh (another tab).
func (c *Client) joinRoom(ctx context.Context, roomID int64) {
	channel := codec.RoomChannel(roomID)
	online, first, err := c.hub.presence.Join(ctx, roomID, c.connID, c.userID)
	if err != nil {
		logging.Error(ctx, "presence join failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if first {
		if err := c.publish(ctx, c.roomOnline(online, codec.ActionLogin, channel), channel, false); err != nil {
			logging.Error(ctx, "login broadcast failed", zap.String("channel", channel), zap.Error(err))
		}
		return
	}
	c.sendFrame(c.roomOnline(online, codec.ActionRefreshUser, channel))
}

// onBusMessage forwards a bus payload to the socket and, for marked frames,
// runs the action's post-hook.
func (c *Client) onBusMessage(channel string, payload []byte) {
	raw, frame, err := codec.DecodeBus(payload)
	if err != nil {
		logging.Error(c.ctx, "dropping malformed bus frame", zap.String("channel", channel), zap.Error(err))
		return
	}
	c.sendRaw(raw)
	if frame != nil {
		c.postProcess(c.ctx, frame)
	}
}

// readPump drains the socket until it closes, dispatching every frame.
func (c *Client) readPump() {
	defer c.teardown()

	c.sock.SetReadLimit(int64(4*c.hub.cfg.MaxMessageSize + 1024))
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(c.ctx, "socket closed unexpectedly", zap.Error(err))
			}
			return
		}
		c.handleInbound(c.ctx, payload)
	}
}

// writePump owns all socket writes. It exits when the send channel closes
// and takes the socket down with it.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Warn(c.ctx, "socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleInbound vets one client frame and hands it to the router. Every
// rejection is answered with a growl, never a disconnect.
func (c *Client) handleInbound(ctx context.Context, payload []byte) {
	if !c.isConnected() {
		c.growl("Skipping message, as websocket is not initialized yet")
		return
	}
	if len(payload) == 0 {
		c.growl("Skipping null message")
		return
	}
	if err := c.hub.spam.Check(ctx, c.connID, payload); err != nil {
		if IsValidation(err) {
			c.growl(err.Error())
			return
		}
		logging.Error(ctx, "spam check failed", zap.Error(err))
		return
	}

	frame, err := codec.DecodeClient(payload)
	if err != nil {
		c.growl(err.Error())
		return
	}
	c.dispatch(ctx, frame)
}

// teardown runs exactly once: unsubscribe, presence sweep with logout
// broadcasts where this was the user's last tab, then link and pump shutdown.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx := logging.WithConn(context.Background(), c.connID, c.userID)

		channels := c.channelList()
		wasConnected := c.isConnected()

		if c.sub != nil {
			_ = c.sub.Unsubscribe(ctx, channels...)
		}
		for _, channel := range channels {
			kind, roomID, err := codec.ParseChannel(channel)
			if err != nil || kind != codec.RoomChannelPrefix {
				continue
			}
			online, stillOnline, err := c.hub.presence.Leave(ctx, roomID, c.connID, c.userID)
			if err != nil {
				logging.Error(ctx, "presence leave failed", zap.String("channel", channel), zap.Error(err))
				continue
			}
			if wasConnected && !stillOnline {
				if err := c.publish(ctx, c.roomOnline(online, codec.ActionLogout, channel), channel, false); err != nil {
					logging.Error(ctx, "logout broadcast failed", zap.String("channel", channel), zap.Error(err))
				}
			}
		}
		if c.sub != nil {
			_ = c.sub.Close()
		}
		close(c.send)
		metrics.DecConnection()
		logging.Info(ctx, "connection closed", zap.Strings("channels", channels))
	})
}

func (c *Client) publish(ctx context.Context, f *codec.Frame, channel string, marked bool) error {
	payload, err := codec.Encode(f)
	if err != nil {
		return err
	}
	if marked {
		payload = codec.Mark(payload)
	}
	return c.hub.bus.Publish(ctx, channel, payload)
}

// sendRaw queues a payload for the write pump. A full buffer drops the frame
// rather than blocking the bus listener.
func (c *Client) sendRaw(payload []byte) {
	defer func() {
		// send may already be closed by teardown
		_ = recover()
	}()
	select {
	case c.send <- payload:
	default:
		logging.Warn(c.ctx, "send buffer full, dropping frame")
	}
}

func (c *Client) sendFrame(f *codec.Frame) {
	payload, err := codec.Encode(f)
	if err != nil {
		logging.Error(c.ctx, "frame encode failed", zap.String("action", f.Action), zap.Error(err))
		return
	}
	c.sendRaw(payload)
}

func (c *Client) growl(msg string) {
	c.sendFrame(c.growlFrame(msg))
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func (c *Client) hasChannel(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels.Has(channel)
}

func (c *Client) addChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels.Insert(channel)
}

func (c *Client) removeChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels.Delete(channel)
}

func (c *Client) resetChannels(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = set.New(channels...)
}

func (c *Client) channelList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels.SortedList()
}
