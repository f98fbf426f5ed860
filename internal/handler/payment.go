package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"delika-checkout/internal/checkout"
	"delika-checkout/internal/logger"
	"delika-checkout/internal/metrics"
	"delika-checkout/internal/middleware"
	"delika-checkout/internal/payment"

	"go.uber.org/zap"
)

type openRequest struct {
	Amount  float64 `json:"amount"`
	OrderID string  `json:"orderId"`
}

type methodRequest struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

type otpRequest struct {
	Otp string `json:"otp"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Code    string            `json:"code,omitempty"`
	Session *checkout.Session `json:"session,omitempty"`
}

type actionResponse struct {
	Outcome any              `json:"outcome,omitempty"`
	Session checkout.Session `json:"session"`
}

// PaymentHandler exposes the payment dialogs of the authenticated customer.
type PaymentHandler struct {
	Manager *checkout.Manager
	Metrics *metrics.Payments
}

func NewPaymentHandler(m *checkout.Manager, mt *metrics.Payments) *PaymentHandler {
	if mt == nil {
		mt = metrics.NewPayments()
	}
	return &PaymentHandler{Manager: m, Metrics: mt}
}

// Stats serves the payment counters.
func (h *PaymentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

// Register mounts the payment routes on mux.
func (h *PaymentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /payments", h.Open)
	mux.HandleFunc("GET /payments/{id}", h.Get)
	mux.HandleFunc("POST /payments/{id}/method", h.SubmitMethod)
	mux.HandleFunc("POST /payments/{id}/otp", h.SubmitOtp)
	mux.HandleFunc("POST /payments/{id}/verify", h.Verify)
	mux.HandleFunc("POST /payments/{id}/reset", h.Reset)
	mux.HandleFunc("DELETE /payments/{id}", h.Close)
}

func (h *PaymentHandler) Open(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Kind: "unauthorized"})
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload", Kind: "validation"})
		return
	}

	timer := metrics.StartTimer()
	f, err := h.Manager.Open(r.Context(), req.Amount, req.OrderID, customerID)
	h.Metrics.Op("open").Observe(timer.Duration(), err != nil)
	if err != nil {
		writeFlowError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, actionResponse{Session: f.Snapshot()})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}
	snap := f.Snapshot()
	snap.Error = f.DisplayError()
	writeJSON(w, http.StatusOK, actionResponse{Session: snap})
}

func (h *PaymentHandler) SubmitMethod(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload", Kind: "validation"})
		return
	}

	// Unknown names fall through to the flow, which rejects them.
	provider, err := payment.ParseProvider(req.Provider)
	if err != nil {
		provider = payment.Provider(req.Provider)
	}

	timer := metrics.StartTimer()
	out, err := f.SubmitPaymentMethod(r.Context(), req.Phone, provider)
	h.Metrics.Op("method").Observe(timer.Duration(), err != nil)
	h.respond(w, r, f, out, err)
}

func (h *PaymentHandler) SubmitOtp(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}

	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload", Kind: "validation"})
		return
	}

	timer := metrics.StartTimer()
	out, err := f.SubmitOtp(r.Context(), req.Otp)
	h.Metrics.Op("otp").Observe(timer.Duration(), err != nil)
	h.respond(w, r, f, out, err)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}
	timer := metrics.StartTimer()
	out, err := f.VerifyPayment(r.Context())
	h.Metrics.Op("verify").Observe(timer.Duration(), err != nil)
	h.respond(w, r, f, out, err)
}

func (h *PaymentHandler) Reset(w http.ResponseWriter, r *http.Request) {
	f, ok := h.flow(w, r)
	if !ok {
		return
	}
	f.Reset()
	writeJSON(w, http.StatusOK, actionResponse{Session: f.Snapshot()})
}

func (h *PaymentHandler) Close(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.flow(w, r); !ok {
		return
	}
	if err := h.Manager.Close(r.Context(), r.PathValue("id")); err != nil {
		writeFlowError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// flow looks the dialog up and hides dialogs owned by other customers.
func (h *PaymentHandler) flow(w http.ResponseWriter, r *http.Request) (*checkout.Flow, bool) {
	customerID, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Kind: "unauthorized"})
		return nil, false
	}

	f, err := h.Manager.Get(r.Context(), r.PathValue("id"))
	if err == nil && f.Snapshot().CustomerID != customerID {
		err = checkout.ErrDialogNotFound
	}
	if err != nil {
		writeFlowError(w, r, err, nil)
		return nil, false
	}
	return f, true
}

func (h *PaymentHandler) respond(w http.ResponseWriter, r *http.Request, f *checkout.Flow, outcome any, err error) {
	snap := f.Snapshot()
	if err != nil {
		writeFlowError(w, r, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Outcome: outcome, Session: snap})
}

// statusFor maps an error to its HTTP status and kind name. Order matters: a
// payment init failure may also wrap a transport cause.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrDialogNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, checkout.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, checkout.ErrPaymentInit):
		return http.StatusUnprocessableEntity, "payment_init"
	case errors.Is(err, checkout.ErrOtp):
		return http.StatusUnprocessableEntity, "otp"
	case errors.Is(err, checkout.ErrVerificationPending):
		return http.StatusUnprocessableEntity, "verification_pending"
	case errors.Is(err, checkout.ErrTransport):
		return http.StatusBadGateway, "transport"
	case errors.Is(err, checkout.ErrVerifyNotAllowed):
		return http.StatusConflict, "verify_not_allowed"
	case errors.Is(err, checkout.ErrOperationInProgress):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, checkout.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, checkout.ErrFlowFailed):
		return http.StatusConflict, "flow_failed"
	case errors.Is(err, checkout.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeFlowError(w http.ResponseWriter, r *http.Request, err error, snap *checkout.Session) {
	status, kind := statusFor(err)

	resp := errorResponse{Error: checkout.UserMessage(err), Kind: kind, Session: snap}
	if errors.Is(err, checkout.ErrDialogNotFound) {
		resp.Error = checkout.ErrDialogNotFound.Error()
	}
	var fe *checkout.Error
	if errors.As(err, &fe) {
		resp.Code = fe.Code
	}

	log := logger.FromCtx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Payment request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Info("Payment request rejected", zap.String("path", r.URL.Path), zap.String("kind", kind), zap.Error(err))
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn("Failed to encode response", zap.Error(err))
	}
}
