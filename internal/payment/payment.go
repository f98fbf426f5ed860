// internal/payment/payment.go
package payment

import (
	"context"
	"errors"
)

// ErrTransport marks failures to reach the gateway or to decode its reply.
var ErrTransport = errors.New("payment gateway transport error")

// Gateway is the remote mobile-money processor, reached through the
// storefront's proxy endpoints. Every call is single-attempt.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	SubmitOtp(ctx context.Context, otp, reference string) (*OtpResult, error)
	VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error)
}
