package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	customerKey  ctxKey = "customer_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCustomerID tags the context so every log line carries the customer.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerKey, customerID)
}

func CustomerIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(customerKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns logger with request_id and customer_id added when present.
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if customerID := CustomerIDFrom(ctx); customerID != "" {
		l = l.With(zap.String("customer_id", customerID))
	}
	return l
}
