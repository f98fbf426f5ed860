package middleware

import (
	"context"
	"net/http"

	"delika-checkout/internal/auth"
	"delika-checkout/internal/logger"

	"go.uber.org/zap"
)

type contextKey string

const customerIDKey contextKey = "customerID"

// CustomerIDFromContext returns the authenticated customer.
func CustomerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	return id, ok && id != ""
}

// WithCustomerID is used by tests and internal callers that authenticate
// by other means.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	ctx = context.WithValue(ctx, customerIDKey, customerID)
	return logger.WithCustomerID(ctx, customerID)
}

// Auth requires an access token, from the session cookie or a bearer header,
// that identifies the customer.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID, err := auth.ParseCustomer(auth.ExtractAccessToken(r), secret)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("Rejected token", zap.Error(err))
				writeError(w, "invalid or missing access token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCustomerID(r.Context(), customerID)))
		})
	}
}
