package checkout

import "errors"

// Error kinds. Every error returned by a Flow is an *Error whose Kind is one
// of these, so callers can branch with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrPaymentInit         = errors.New("payment initialization failed")
	ErrOtp                 = errors.New("otp rejected")
	ErrVerificationPending = errors.New("payment not yet confirmed")
	ErrTransport           = errors.New("gateway unreachable")

	ErrInvalidState        = errors.New("operation not allowed in current state")
	ErrVerifyNotAllowed    = errors.New("verification not allowed yet")
	ErrOperationInProgress = errors.New("another payment operation is in progress")
	ErrSessionClosed       = errors.New("payment session closed")
	ErrFlowFailed          = errors.New("payment flow failed")
)

// Error is a recoverable, user-visible failure.
type Error struct {
	Kind    error
	Message string
	// Code is the gateway error code when one was returned, e.g. invalid_otp.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if err == nil {
		return ""
	}
	return "Something went wrong. Please try again."
}
