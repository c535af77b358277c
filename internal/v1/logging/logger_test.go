package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.NotNil(t, GetLogger())

	// Second call is a no-op, not an error
	err = Initialize(false)
	assert.NoError(t, err)
}

func TestGetLogger_BeforeInit(t *testing.T) {
	// GetLogger must never return nil, even before Initialize
	assert.NotNil(t, GetLogger())
}

func TestWithConn(t *testing.T) {
	ctx := WithConn(context.Background(), "abcd-1234", 42)

	assert.Equal(t, "abcd-1234", ctx.Value(ConnIDKey))
	assert.Equal(t, int64(42), ctx.Value(UserIDKey))
}

func TestAppendContextFields(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		fields := appendContextFields(nil, []zap.Field{zap.String("k", "v")})
		assert.Len(t, fields, 1)
	})

	t.Run("connection context", func(t *testing.T) {
		ctx := WithConn(context.Background(), "conn-1", 7)
		fields := appendContextFields(ctx, nil)

		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.Key)
		}
		assert.Contains(t, names, "conn_id")
		assert.Contains(t, names, "user_id")
		assert.Contains(t, names, "service")
	})

	t.Run("does not panic on logging", func(t *testing.T) {
		ctx := WithConn(context.Background(), "conn-2", 8)
		assert.NotPanics(t, func() {
			Debug(ctx, "debug line")
			Info(ctx, "info line")
			Warn(ctx, "warn line")
			Error(ctx, "error line")
		})
	})
}
