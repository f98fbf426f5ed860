package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"delika-checkout/internal/logger"
	"delika-checkout/internal/payment"
	"delika-checkout/internal/scheduler"
	"delika-checkout/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	phonePattern = regexp.MustCompile(`^0\d{9}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

const (
	DefaultCooldown          = 15 * time.Second
	DefaultMaxOtpAttempts    = 5
	DefaultMaxVerifyAttempts = 20
	DefaultDialogTTL         = 30 * time.Minute

	sessionKeyPrefix = "payment_session:"
	dialogKeyPrefix  = "payment_dialog:"
)

type Config struct {
	// Cooldown before a verification may be (re)attempted. Whole seconds.
	Cooldown          time.Duration
	MaxOtpAttempts    int
	MaxVerifyAttempts int
	// DialogTTL is how long an untouched dialog stays in memory. Its
	// snapshot stays in the store.
	DialogTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown < time.Second {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxOtpAttempts <= 0 {
		c.MaxOtpAttempts = DefaultMaxOtpAttempts
	}
	if c.MaxVerifyAttempts <= 0 {
		c.MaxVerifyAttempts = DefaultMaxVerifyAttempts
	}
	if c.DialogTTL <= 0 {
		c.DialogTTL = DefaultDialogTTL
	}
	return c
}

// SessionKey is the store key holding the snapshot for an order.
func SessionKey(orderID string) string {
	return sessionKeyPrefix + orderID
}

// DialogKey is the store key mapping a session id to its order.
func DialogKey(sessionID string) string {
	return dialogKeyPrefix + sessionID
}

// Flow drives one customer through mobile-money checkout:
// charge, then OTP or offline authorization, then verification.
//
// The mutex is never held across a gateway call. Results of a call that
// started before Reset are dropped.
type Flow struct {
	gw    payment.Gateway
	store store.Store
	sched scheduler.Scheduler
	cfg   Config

	mu         sync.Mutex
	s          Session
	gen        uint64
	busy       bool
	closed     bool
	completed  bool
	timer      scheduler.Handle
	timerSeq   uint64
	rev        uint64
	onComplete func(Session)

	persistMu sync.Mutex
	persisted uint64
}

// NewFlow opens a payment dialog for an order. st may be nil.
func NewFlow(
	gw payment.Gateway,
	st store.Store,
	sched scheduler.Scheduler,
	cfg Config,
	amount float64,
	orderID string,
	customerID string,
) (*Flow, error) {
	if gw == nil {
		return nil, errors.New("checkout: nil payment gateway")
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, newError(ErrValidation, "Amount must be greater than zero", nil)
	}
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(customerID) == "" {
		return nil, newError(ErrValidation, "Order and customer are required", nil)
	}
	if sched == nil {
		sched = scheduler.NewTicker()
	}

	return &Flow{
		gw:    gw,
		store: st,
		sched: sched,
		cfg:   cfg.withDefaults(),
		s: Session{
			ID:         uuid.NewString(),
			Amount:     amount,
			OrderID:    orderID,
			CustomerID: customerID,
			State:      StateCollectingPaymentMethod,
			CanVerify:  true,
			UpdatedAt:  time.Now(),
		},
	}, nil
}

// RestoreFlow rebuilds a dialog from a stored snapshot, e.g. after a
// restart. A dialog waiting for offline authorization comes back with a
// fresh cooldown, a settled one stays settled without a second completion.
// Failed dialogs and snapshots missing their reference are not restored.
func RestoreFlow(gw payment.Gateway, st store.Store, sched scheduler.Scheduler, cfg Config, s Session) (*Flow, error) {
	f, err := NewFlow(gw, st, sched, cfg, s.Amount, s.OrderID, s.CustomerID)
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, errors.New("checkout: snapshot has no session id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.s.ID = s.ID
	f.s.UpdatedAt = time.Now()
	switch s.State {
	case StateCollectingPaymentMethod:
	case StateAwaitingOtp, StateAwaitingOfflineAuthorization, StateVerifying, StateSucceeded:
		if s.Reference == "" {
			return nil, fmt.Errorf("checkout: %s snapshot has no reference", s.State)
		}
		f.s.Phone, f.s.Provider, f.s.Reference = s.Phone, s.Provider, s.Reference
		f.s.Message = s.Message
		f.s.OtpAttempts, f.s.VerifyAttempts = s.OtpAttempts, s.VerifyAttempts
		f.s.State = s.State
	default:
		return nil, fmt.Errorf("checkout: %s snapshot is not restorable", s.State)
	}

	switch f.s.State {
	case StateVerifying:
		// The verification in flight was lost with the process.
		f.s.State = StateAwaitingOfflineAuthorization
		f.startCooldownLocked()
	case StateAwaitingOfflineAuthorization:
		f.startCooldownLocked()
	case StateSucceeded:
		f.completed = true
		f.s.CanVerify = false
	}
	return f, nil
}

// OnComplete registers fn to run once when the payment settles.
func (f *Flow) OnComplete(fn func(Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onComplete = fn
}

// Snapshot returns a copy of the current session.
func (f *Flow) Snapshot() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *Flow) cooldownSeconds() int {
	return int(f.cfg.Cooldown / time.Second)
}

// DisplayError returns the current error with the live countdown in place
// of the full cooldown.
func (f *Flow) DisplayError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s.Error == "" || f.s.Countdown <= 0 {
		return f.s.Error
	}
	unit := "seconds"
	if f.s.Countdown == 1 {
		unit = "second"
	}
	return strings.Replace(f.s.Error,
		fmt.Sprintf("%d seconds", f.cooldownSeconds()),
		fmt.Sprintf("%d %s", f.s.Countdown, unit), 1)
}

// ----------------- SubmitPaymentMethod -----------------

func (f *Flow) SubmitPaymentMethod(ctx context.Context, phone string, provider payment.Provider) (ChargeOutcome, error) {
	f.mu.Lock()
	if err := f.guardLocked(StateCollectingPaymentMethod, ErrValidation); err != nil {
		out := ChargeOutcome{State: f.s.State}
		f.mu.Unlock()
		return out, err
	}

	if !phonePattern.MatchString(phone) {
		f.s.Error, f.s.ErrorCode = msgInvalidPhone, ""
		f.mu.Unlock()
		return ChargeOutcome{State: StateCollectingPaymentMethod}, newError(ErrValidation, msgInvalidPhone, nil)
	}
	code, err := provider.Code()
	if err != nil {
		f.s.Error, f.s.ErrorCode = msgInvalidProvider, ""
		f.mu.Unlock()
		return ChargeOutcome{State: StateCollectingPaymentMethod}, newError(ErrValidation, msgInvalidProvider, err)
	}

	f.busy = true
	gen := f.gen
	req := payment.ChargeRequest{
		Amount:      f.s.Amount,
		MobileMoney: payment.MobileMoney{Phone: phone, Provider: code},
		CustomerID:  f.s.CustomerID,
		OrderID:     f.s.OrderID,
	}
	f.mu.Unlock()

	log := logger.FromCtx(ctx).With(zap.String("order_id", req.OrderID), zap.String("provider", string(provider)))

	res, gwErr := f.gw.Charge(ctx, req)

	f.mu.Lock()
	if f.stale(gen) {
		f.mu.Unlock()
		log.Info("Discarding charge result for closed payment session")
		return ChargeOutcome{State: StateCollectingPaymentMethod}, newError(ErrSessionClosed, msgClosed, nil)
	}
	f.busy = false

	var ferr *Error
	switch {
	case gwErr != nil:
		ferr = newError(ErrPaymentInit, msgPaymentInitFailed, transportCause(gwErr))
	case res == nil:
		ferr = newError(ErrPaymentInit, msgPaymentInitFailed, errors.New("empty gateway response"))
	case res.Reference == "" && (res.Status == payment.StatusSendOtp || res.Status == payment.StatusPayOffline):
		ferr = newError(ErrPaymentInit, msgPaymentInitFailed, errors.New("gateway returned no reference"))
	case res.Status == payment.StatusSendOtp:
		f.s.Phone, f.s.Provider, f.s.Reference = phone, provider, res.Reference
		f.s.Message = firstNonEmpty(res.DisplayText, msgDefaultOtpPrompt)
		f.transitionLocked(log, StateAwaitingOtp)
	case res.Status == payment.StatusPayOffline:
		f.s.Phone, f.s.Provider, f.s.Reference = phone, provider, res.Reference
		f.s.Message = firstNonEmpty(res.DisplayText, msgDefaultOfflinePrompt)
		f.transitionLocked(log, StateAwaitingOfflineAuthorization)
		f.startCooldownLocked()
	default:
		ferr = newError(ErrPaymentInit, msgPaymentInitFailed, fmt.Errorf("unexpected payment status %q", res.Status))
	}

	snap, rev := f.commitLocked(ferr)
	f.mu.Unlock()
	f.persist(ctx, rev, snap)

	out := ChargeOutcome{State: snap.State, Reference: snap.Reference, Message: snap.Message}
	if ferr != nil {
		log.Warn("Payment initialization failed", zap.Error(ferr))
		return out, ferr
	}
	return out, nil
}

// ----------------- SubmitOtp -----------------

func (f *Flow) SubmitOtp(ctx context.Context, code string) (OtpOutcome, error) {
	f.mu.Lock()
	if err := f.guardLocked(StateAwaitingOtp, ErrInvalidState); err != nil {
		out := OtpOutcome{State: f.s.State}
		f.mu.Unlock()
		return out, err
	}

	if !otpPattern.MatchString(code) {
		f.s.Error, f.s.ErrorCode = msgInvalidOtpFormat, ""
		f.mu.Unlock()
		return OtpOutcome{State: StateAwaitingOtp}, newError(ErrValidation, msgInvalidOtpFormat, nil)
	}

	f.busy = true
	gen := f.gen
	reference := f.s.Reference
	f.mu.Unlock()

	log := logger.FromCtx(ctx).With(zap.String("reference", reference))

	res, gwErr := f.gw.SubmitOtp(ctx, code, reference)

	f.mu.Lock()
	if f.stale(gen) {
		f.mu.Unlock()
		log.Info("Discarding OTP result for closed payment session")
		return OtpOutcome{State: StateCollectingPaymentMethod}, newError(ErrSessionClosed, msgClosed, nil)
	}
	f.busy = false

	var ferr *Error
	switch {
	case gwErr != nil:
		ferr = newError(ErrTransport, msgOtpTransport, gwErr)
	case res == nil:
		f.s.OtpAttempts++
		ferr = newError(ErrOtp, msgIncorrectOtp, nil)
	case res.Status == 200 && res.Data != nil && res.Data.Status == payment.StatusPayOffline:
		f.s.Message = firstNonEmpty(res.Data.DisplayText, msgDefaultOfflinePrompt)
		f.transitionLocked(log, StateAwaitingOfflineAuthorization)
		f.startCooldownLocked()
	case res.Status == 400 && res.Code == payment.CodeInvalidOtp:
		f.s.OtpAttempts++
		ferr = newError(ErrOtp, firstNonEmpty(res.Message, msgInvalidOtp), nil)
		ferr.Code = payment.CodeInvalidOtp
	default:
		f.s.OtpAttempts++
		ferr = newError(ErrOtp, msgIncorrectOtp, nil)
		ferr.Code = res.Code
	}

	if ferr != nil && errors.Is(ferr, ErrOtp) && f.s.OtpAttempts >= f.cfg.MaxOtpAttempts {
		f.failLocked(log, reasonTooManyOtp)
		ferr = &Error{Kind: ErrOtp, Message: msgTooManyOtp, Code: ferr.Code, Err: ErrFlowFailed}
	}

	snap, rev := f.commitLocked(ferr)
	f.mu.Unlock()
	f.persist(ctx, rev, snap)

	out := OtpOutcome{State: snap.State, Message: snap.Message}
	if ferr != nil {
		log.Warn("OTP verification failed", zap.Error(ferr), zap.Int("attempts", snap.OtpAttempts))
		return out, ferr
	}
	return out, nil
}

// ----------------- VerifyPayment -----------------

func (f *Flow) VerifyPayment(ctx context.Context) (VerifyOutcome, error) {
	f.mu.Lock()
	if f.s.State == StateSucceeded && !f.closed {
		out := VerifyOutcome{State: StateSucceeded, Reference: f.s.Reference, RedirectURL: SuccessURL(f.s.Reference)}
		f.mu.Unlock()
		return out, nil
	}
	if err := f.guardLocked(StateAwaitingOfflineAuthorization, ErrVerifyNotAllowed); err != nil {
		out := VerifyOutcome{State: f.s.State, Reference: f.s.Reference}
		f.mu.Unlock()
		return out, err
	}
	if !f.s.CanVerify {
		out := VerifyOutcome{State: f.s.State, Reference: f.s.Reference}
		f.mu.Unlock()
		return out, newError(ErrVerifyNotAllowed, msgCooldown, nil)
	}

	log := logger.FromCtx(ctx).With(zap.String("reference", f.s.Reference))

	f.busy = true
	gen := f.gen
	reference := f.s.Reference
	f.s.CanVerify = false
	f.s.Error, f.s.ErrorCode = "", ""
	f.transitionLocked(log, StateVerifying)
	f.mu.Unlock()

	res, gwErr := f.gw.VerifyPayment(ctx, reference)

	f.mu.Lock()
	if f.stale(gen) {
		f.mu.Unlock()
		log.Info("Discarding verification result for closed payment session")
		return VerifyOutcome{State: StateCollectingPaymentMethod}, newError(ErrSessionClosed, msgClosed, nil)
	}
	f.busy = false

	if gwErr == nil && res.Settled() {
		f.stopCountdownLocked()
		f.s.Countdown = 0
		f.transitionLocked(log, StateSucceeded)
		var notify func(Session)
		if !f.completed {
			f.completed = true
			notify = f.onComplete
		}
		snap, rev := f.commitLocked(nil)
		f.mu.Unlock()
		f.persist(ctx, rev, snap)

		if notify != nil {
			notify(snap)
		}
		return VerifyOutcome{State: StateSucceeded, Reference: reference, RedirectURL: SuccessURL(reference)}, nil
	}

	f.s.VerifyAttempts++
	var ferr *Error
	if gwErr != nil {
		ferr = newError(ErrTransport, msgVerifyTransport, gwErr)
	} else {
		status := ""
		if res != nil {
			status = res.Status
		}
		ferr = newError(ErrVerificationPending, fmt.Sprintf(msgVerifyPending, f.cooldownSeconds()),
			fmt.Errorf("gateway status %q", status))
	}

	f.transitionLocked(log, StateAwaitingOfflineAuthorization)
	if f.s.VerifyAttempts >= f.cfg.MaxVerifyAttempts {
		f.failLocked(log, reasonNotConfirmed)
		ferr = &Error{Kind: ferr.Kind, Message: msgNotConfirmed, Err: ErrFlowFailed}
	} else {
		f.startCooldownLocked()
	}

	snap, rev := f.commitLocked(ferr)
	f.mu.Unlock()
	f.persist(ctx, rev, snap)

	log.Warn("Payment verification did not settle", zap.Error(ferr), zap.Int("attempts", snap.VerifyAttempts))
	return VerifyOutcome{State: snap.State, Reference: reference}, ferr
}

// ----------------- Reset / Close -----------------

// Reset returns the dialog to payment method entry, dropping the reference,
// errors and the countdown. In-flight gateway results are discarded.
func (f *Flow) Reset() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.resetLocked()
	snap, rev := f.commitLocked(nil)
	f.mu.Unlock()
	f.persist(context.Background(), rev, snap)
}

// Close resets the flow and detaches it for good.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.resetLocked()
	f.closed = true
	f.onComplete = nil
}

func (f *Flow) resetLocked() {
	f.stopCountdownLocked()
	f.gen++
	f.busy = false
	f.completed = false
	f.s = Session{
		ID:         f.s.ID,
		Amount:     f.s.Amount,
		OrderID:    f.s.OrderID,
		CustomerID: f.s.CustomerID,
		State:      StateCollectingPaymentMethod,
		CanVerify:  true,
	}
}

// ----------------- internals -----------------

// guardLocked admits an operation that needs state want. A state mismatch is
// reported as kind and still matches ErrInvalidState through its cause.
func (f *Flow) guardLocked(want FlowState, kind error) error {
	switch {
	case f.closed:
		return newError(ErrSessionClosed, msgClosed, nil)
	case f.busy:
		return newError(ErrOperationInProgress, msgBusy, nil)
	case f.s.State == StateFailed:
		return newError(ErrFlowFailed, msgFailed, nil)
	case f.s.State != want:
		return newError(kind, msgWrongState, fmt.Errorf("%w: state is %s", ErrInvalidState, f.s.State))
	}
	return nil
}

func (f *Flow) stale(gen uint64) bool {
	return f.closed || f.gen != gen
}

func (f *Flow) transitionLocked(log *zap.Logger, to FlowState) {
	if f.s.State == to {
		return
	}
	log.Info("Payment state changed",
		zap.String("session_id", f.s.ID),
		zap.String("from", string(f.s.State)),
		zap.String("to", string(to)),
	)
	f.s.State = to
}

func (f *Flow) failLocked(log *zap.Logger, reason string) {
	f.stopCountdownLocked()
	f.s.CanVerify = false
	f.s.Countdown = 0
	f.s.FailureReason = reason
	f.transitionLocked(log, StateFailed)
}

// commitLocked records err as the visible error and returns a snapshot with
// its revision.
func (f *Flow) commitLocked(err *Error) (Session, uint64) {
	if err != nil {
		f.s.Error, f.s.ErrorCode = err.Message, err.Code
	} else {
		f.s.Error, f.s.ErrorCode = "", ""
	}
	f.s.UpdatedAt = time.Now()
	f.rev++
	return f.s, f.rev
}

func (f *Flow) startCooldownLocked() {
	f.stopCountdownLocked()
	f.s.CanVerify = false
	f.s.Countdown = f.cooldownSeconds()
	seq := f.timerSeq
	f.timer = f.sched.Every(time.Second, func() { f.tick(seq) })
}

func (f *Flow) stopCountdownLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.timerSeq++
}

func (f *Flow) tick(seq uint64) {
	f.mu.Lock()
	if f.timer == nil || seq != f.timerSeq {
		f.mu.Unlock()
		return
	}
	if f.s.Countdown > 0 {
		f.s.Countdown--
	}
	if f.s.Countdown > 0 {
		f.mu.Unlock()
		return
	}

	f.stopCountdownLocked()
	f.s.CanVerify = true
	snap, rev := f.commitLocked(nil)
	f.mu.Unlock()
	f.persist(context.Background(), rev, snap)
}

// persist writes the snapshot unless a newer one was already written.
// Storage failures never fail the flow.
func (f *Flow) persist(ctx context.Context, rev uint64, s Session) {
	if f.store == nil {
		return
	}

	f.persistMu.Lock()
	defer f.persistMu.Unlock()
	if rev <= f.persisted {
		return
	}

	log := logger.FromCtx(ctx).With(zap.String("order_id", s.OrderID))
	raw, err := json.Marshal(s)
	if err != nil {
		log.Error("Failed to marshal payment session", zap.Error(err))
		return
	}
	if err := f.store.Set(context.WithoutCancel(ctx), SessionKey(s.OrderID), string(raw)); err != nil {
		log.Warn("Failed to persist payment session", zap.Error(err))
		return
	}
	f.persisted = rev
}

func transportCause(err error) error {
	if errors.Is(err, payment.ErrTransport) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
