package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/driftchat/driftchat/internal/v1/auth"
	"github.com/driftchat/driftchat/internal/v1/store"
)

type fakeSessions map[string]int64

func (s fakeSessions) Resolve(_ context.Context, key string) (int64, error) {
	id, ok := s[key]
	if !ok {
		return 0, auth.ErrNoSession
	}
	return id, nil
}

func wsTestRouter(h *Hub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", h.ServeWs)
	return router
}

func TestServeWs_MissingCookieRejectedWith403(t *testing.T) {
	h := newHarness(t)
	h.hub.sessions = fakeSessions{}
	router := wsTestRouter(h.hub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Zero(t, h.bus.publishCount())
}

func TestServeWs_UnknownSessionRejectedWith403(t *testing.T) {
	h := newHarness(t)
	h.hub.sessions = fakeSessions{"good": 2}
	router := wsTestRouter(h.hub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: "stale"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, h.bus.publishCount())
}

func TestServeWs_KnownSessionFailsUpgradeWithoutWebsocketHeaders(t *testing.T) {
	h := newHarness(t)
	h.st.addUser(store.User{ID: 2, Username: "alice"})
	h.hub.sessions = fakeSessions{"good": 2}
	router := wsTestRouter(h.hub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: "good"})
	router.ServeHTTP(w, req)

	// Session accepted; the plain HTTP request fails at the upgrade step
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req))
}

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, pairKey(2, 3), pairKey(3, 2))
	assert.NotEqual(t, pairKey(2, 3), pairKey(2, 4))
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km keyedMutex
	var inside int
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.lock("2:3")
			defer unlock()
			inside++
			assert.Equal(t, 1, inside%2) // odd while held by exactly one goroutine
			inside++
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, inside)
}
