package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pinger struct {
	err error
}

func (p pinger) Ping(context.Context) error { return p.err }

func probe(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.Register(router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	h := NewHandler(pinger{}, pinger{})
	w := probe(h, "/health/live")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadiness_AllBackendsUp(t *testing.T) {
	h := NewHandler(pinger{}, pinger{})
	w := probe(h, "/health/ready")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":{"redis":"ok","postgres":"ok"}}`, w.Body.String())
}

func TestReadiness_RedisDown(t *testing.T) {
	h := NewHandler(pinger{err: errors.New("refused")}, pinger{})
	w := probe(h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":{"redis":"unreachable","postgres":"ok"}}`, w.Body.String())
}

func TestReadiness_StoreDown(t *testing.T) {
	h := NewHandler(pinger{}, pinger{err: errors.New("refused")})
	w := probe(h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
