// Package store is the typed gateway to the relational schema. Every call is
// wrapped with a single transparent retry on stale-connection errors: the
// gateway drops the pooled handle, opens a fresh one, and repeats the call
// once. Any other error propagates untouched.
package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/metrics"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyMember is returned when a (user, room) membership already exists.
	ErrAlreadyMember = errors.New("user is already a room member")
)

// Gateway wraps a pgx pool plus the two configurable raw queries.
type Gateway struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
	dsn  string

	userRoomsQuery  string
	directRoomQuery string
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn, userRoomsQuery, directRoomQuery string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Gateway{
		pool:            pool,
		dsn:             dsn,
		userRoomsQuery:  userRoomsQuery,
		directRoomQuery: directRoomQuery,
	}, nil
}

// Ping checks database connectivity. Used by health checks.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.currentPool().Ping(ctx)
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
}

func (g *Gateway) currentPool() *pgxpool.Pool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pool
}

// reopen swaps the stale handle for a fresh one. Concurrent callers that
// raced on the same stale handle end up sharing the replacement.
func (g *Gateway) reopen(ctx context.Context, stale *pgxpool.Pool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool != stale {
		// Another caller already replaced the handle
		return nil
	}
	pool, err := pgxpool.New(ctx, g.dsn)
	if err != nil {
		return err
	}
	stale.Close()
	g.pool = pool
	return nil
}

// withRetry runs fn against the shared pool, reconnecting and retrying
// exactly once when the error classifies as a stale connection.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(pool *pgxpool.Pool) error) error {
	pool := g.currentPool()
	err := fn(pool)
	if err == nil || !isStaleConn(err) {
		return err
	}

	logging.Warn(ctx, "stale store connection, reconnecting", zap.String("op", op), zap.Error(err))
	metrics.StoreRetries.Inc()

	if rerr := g.reopen(ctx, pool); rerr != nil {
		return err
	}
	return fn(g.currentPool())
}

// isStaleConn classifies connection-gone errors: only these trigger the
// one-shot reconnect. Cancellation is never retried.
func isStaleConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF")
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
