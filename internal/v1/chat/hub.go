package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/auth"
	"github.com/driftchat/driftchat/internal/v1/bus"
	"github.com/driftchat/driftchat/internal/v1/config"
	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/metrics"
	"github.com/driftchat/driftchat/internal/v1/presence"
)

// Hub holds the process-wide collaborators every connection shares and
// upgrades sockets into supervised clients.
type Hub struct {
	cfg      *config.Config
	bus      Bus
	store    Store
	presence *presence.Tracker
	sessions SessionResolver
	geo      JoinRecorder
	images   ImageExtractor
	spam     SpamPolicy

	newLink  func(ctx context.Context) SubscriberLink
	pairs    keyedMutex
	upgrader websocket.Upgrader
}

// NewHub wires the hub over the shared bus service. A nil extractor falls
// back to passthrough; a nil policy to the size check alone.
func NewHub(cfg *config.Config, svc *bus.Service, st Store, sessions SessionResolver, geo JoinRecorder, images ImageExtractor, spam SpamPolicy) *Hub {
	if images == nil {
		images = PassthroughImages{}
	}
	if spam == nil {
		spam, _ = NewSpamPolicy(cfg.MaxMessageSize, "")
	}
	return &Hub{
		cfg:      cfg,
		bus:      svc,
		store:    st,
		presence: presence.New(svc),
		sessions: sessions,
		geo:      geo,
		images:   images,
		spam:     spam,
		newLink: func(ctx context.Context) SubscriberLink {
			return svc.NewSubscriber(ctx)
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     auth.CheckSameHost,
		},
	}
}

// ServeWs is the websocket endpoint. The session cookie is resolved before
// the upgrade; an unknown session is rejected with 403 and emits no frames.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	cookie, err := c.Cookie(h.cfg.SessionCookieName)
	if err != nil {
		logging.Warn(ctx, "handshake without session cookie", zap.String("remote", c.Request.RemoteAddr))
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	userID, err := h.sessions.Resolve(ctx, cookie)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			logging.Warn(ctx, "session key rejected", zap.String("remote", c.Request.RemoteAddr))
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		logging.Error(ctx, "session lookup failed", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, sock, userID, clientIP(c.Request))
	metrics.IncConnection()

	go client.writePump()
	if err := client.open(client.ctx); err != nil {
		logging.Error(client.ctx, "connection open failed", zap.Error(err))
		client.teardown()
		return
	}
	go client.readPump()
}

// clientIP prefers the proxy-provided X-Real-IP header over the socket peer.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// keyedMutex serializes work per key. Entries are kept for reuse; the key
// space is bounded by distinct user pairs.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// pairKey is order-independent so both members of a pair contend on the
// same lock.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
