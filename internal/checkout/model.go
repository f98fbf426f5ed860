package checkout

import (
	"net/url"
	"time"

	"delika-checkout/internal/payment"
)

type FlowState string

const (
	StateCollectingPaymentMethod      FlowState = "CollectingPaymentMethod"
	StateAwaitingOtp                  FlowState = "AwaitingOtp"
	StateAwaitingOfflineAuthorization FlowState = "AwaitingOfflineAuthorization"
	StateVerifying                    FlowState = "Verifying"
	StateSucceeded                    FlowState = "Succeeded"
	StateFailed                       FlowState = "Failed"
)

func (s FlowState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// User-facing texts.
const (
	msgDefaultOtpPrompt     = "Please enter the one-time password sent to your phone"
	msgDefaultOfflinePrompt = "Please complete the authorization on your mobile device"

	msgInvalidPhone      = "Enter a valid 10-digit mobile money number"
	msgInvalidProvider   = "Choose a mobile money provider"
	msgInvalidOtpFormat  = "OTP must be 6 digits"
	msgPaymentInitFailed = "Failed to initialize payment. Please try again."
	msgInvalidOtp        = "The OTP provided is incorrect. Please check again"
	msgIncorrectOtp      = "Incorrect OTP, kindly enter the right OTP"
	msgOtpTransport      = "Failed to verify OTP, please try again"
	msgVerifyPending     = "Payment not confirmed yet. Please try again in %d seconds."
	msgVerifyTransport   = "Failed to verify payment. Please try again."
	msgTooManyOtp        = "Too many incorrect OTP attempts. Please start the payment again."
	msgNotConfirmed      = "We could not confirm your payment. Please start the payment again."
	msgCooldown          = "Please wait before verifying the payment again."
	msgBusy              = "Please wait for the current request to finish."
	msgClosed            = "This payment dialog was closed."
	msgFailed            = "This payment can no longer continue. Please start again."
	msgWrongState        = "This action is not available right now."
)

const (
	reasonTooManyOtp   = "too many OTP attempts"
	reasonNotConfirmed = "payment not confirmed"
)

// Session is the presentation state of one payment dialog.
type Session struct {
	ID            string           `json:"id"`
	Amount        float64          `json:"amount"`
	OrderID       string           `json:"orderId"`
	CustomerID    string           `json:"customerId"`
	Phone         string           `json:"phone,omitempty"`
	Provider      payment.Provider `json:"provider,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	State         FlowState        `json:"state"`
	FailureReason string           `json:"failureReason,omitempty"`
	Message       string           `json:"message,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorCode     string           `json:"errorCode,omitempty"`
	CanVerify     bool             `json:"canVerify"`
	Countdown     int              `json:"countdown"`

	OtpAttempts    int       `json:"otpAttempts"`
	VerifyAttempts int       `json:"verifyAttempts"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SuccessURL is where the storefront sends the customer after settlement.
func SuccessURL(reference string) string {
	return "/checkout/success?reference=" + url.QueryEscape(reference)
}

type ChargeOutcome struct {
	State     FlowState `json:"state"`
	Reference string    `json:"reference"`
	Message   string    `json:"message"`
}

type OtpOutcome struct {
	State   FlowState `json:"state"`
	Message string    `json:"message"`
}

type VerifyOutcome struct {
	State       FlowState `json:"state"`
	Reference   string    `json:"reference"`
	RedirectURL string    `json:"redirectUrl,omitempty"`
}
