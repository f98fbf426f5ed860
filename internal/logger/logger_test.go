package logger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	original := Set(nil)
	defer Set(original)

	t.Run("Production", func(t *testing.T) {
		Init("production")
		assert.NotNil(t, L())
	})

	t.Run("Development", func(t *testing.T) {
		Init("development")
		assert.NotNil(t, L())
	})
}

func TestL(t *testing.T) {
	original := Set(nil)
	defer Set(original)

	os.Setenv("APP_ENV", "test")

	l := L()
	assert.NotNil(t, l)
	assert.Same(t, l, L())
}

func TestContextFunctions(t *testing.T) {
	ctx := context.Background()

	t.Run("RequestID", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFrom(ctx))
		assert.Equal(t, "req-1", RequestIDFrom(WithRequestID(ctx, "req-1")))
	})

	t.Run("CustomerID", func(t *testing.T) {
		assert.Equal(t, "", CustomerIDFrom(ctx))
		assert.Equal(t, "CUST1", CustomerIDFrom(WithCustomerID(ctx, "CUST1")))
	})
}

func TestFromCtx(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	original := Set(zap.New(core))
	defer Set(original)

	t.Run("WithIDs", func(t *testing.T) {
		ctx := WithCustomerID(WithRequestID(context.Background(), "req-abc-123"), "CUST1")

		FromCtx(ctx).Info("test message with id")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		fields := logs[0].ContextMap()
		assert.Equal(t, "req-abc-123", fields["request_id"])
		assert.Equal(t, "CUST1", fields["customer_id"])
	})

	t.Run("WithoutIDs", func(t *testing.T) {
		FromCtx(context.Background()).Info("test message without id")

		logs := observed.TakeAll()
		assert.Len(t, logs, 1)
		_, ok := logs[0].ContextMap()["request_id"]
		assert.False(t, ok)
	})
}

func TestSync(t *testing.T) {
	assert.NotPanics(t, func() {
		Sync()
	})
}
