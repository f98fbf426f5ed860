package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"delika-checkout/internal/logger"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

type GatewayConfig struct {
	ChargeURL string
	OtpURL    string
	VerifyURL string
	Timeout   time.Duration
}

// paystackGateway talks to the storefront's Paystack proxy.
type paystackGateway struct {
	chargeURL  string
	otpURL     string
	verifyURL  string
	httpClient *http.Client
}

// ----------------- Constructor -----------------

func NewPaystackGateway(cfg GatewayConfig) Gateway {
	if cfg.ChargeURL == "" || cfg.OtpURL == "" || cfg.VerifyURL == "" {
		logger.L().Warn("payment gateway endpoint not configured",
			zap.String("charge_url", cfg.ChargeURL),
			zap.String("otp_url", cfg.OtpURL),
			zap.String("verify_url", cfg.VerifyURL),
		)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &paystackGateway{
		chargeURL: cfg.ChargeURL,
		otpURL:    cfg.OtpURL,
		verifyURL: cfg.VerifyURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ----------------- Charge -----------------

func (g *paystackGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("order_id", req.OrderID),
		zap.Float64("amount", req.Amount),
		zap.String("provider", req.MobileMoney.Provider),
	)

	jsonBody, err := json.Marshal(req)
	if err != nil {
		log.Error("Failed to marshal charge request", zap.Error(err))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chargeURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info("Sending charge request to gateway")

	bodyBytes, status, err := g.do(httpReq)
	if err != nil {
		log.Error("Charge request failed", zap.Error(err))
		return nil, err
	}

	if status < 200 || status > 299 {
		log.Error("Gateway returned non-success status",
			zap.Int("status", status),
			zap.ByteString("response", bodyBytes),
		)
		return nil, fmt.Errorf("gateway charge error: status %d", status)
	}

	var env chargeEnvelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		log.Error("Failed decoding charge response", zap.Error(err))
		return nil, fmt.Errorf("%w: decode charge response: %v", ErrTransport, err)
	}

	res := env.data()
	log.Info("Gateway charge created",
		zap.String("reference", res.Reference),
		zap.String("status", res.Status),
	)
	return &res, nil
}

// ----------------- SubmitOtp -----------------

func (g *paystackGateway) SubmitOtp(ctx context.Context, otp, reference string) (*OtpResult, error) {
	log := logger.FromCtx(ctx).With(zap.String("reference", reference))

	endpoint, err := withQuery(g.otpURL, url.Values{"otp": {otp}, "reference": {reference}})
	if err != nil {
		log.Error("Invalid OTP endpoint", zap.Error(err))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Error("Failed building request", zap.Error(err))
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	bodyBytes, status, err := g.do(httpReq)
	if err != nil {
		log.Error("OTP request failed", zap.Error(err))
		return nil, err
	}

	// The proxy reports the gateway verdict in the body, so the HTTP
	// status is only logged.
	var env otpEnvelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		log.Error("Failed decoding OTP response",
			zap.Int("http_status", status),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: decode otp response: %v", ErrTransport, err)
	}

	res := env.result()
	log.Info("Gateway OTP verdict",
		zap.Int("http_status", status),
		zap.Int("status", res.Status),
		zap.String("code", res.Code),
	)
	return &res, nil
}

// ----------------- VerifyPayment -----------------

func (g *paystackGateway) VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error) {
	log := logger.FromCtx(ctx).With(zap.String("reference", reference))

	endpoint, err := withQuery(g.verifyURL, url.Values{"reference": {reference}})
	if err != nil {
		log.Error("Invalid verify endpoint", zap.Error(err))
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Error("Failed building request", zap.Error(err))
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	bodyBytes, status, err := g.do(httpReq)
	if err != nil {
		log.Error("Verify request failed", zap.Error(err))
		return nil, err
	}

	var env verifyEnvelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		log.Error("Failed decoding verify response",
			zap.Int("http_status", status),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: decode verify response: %v", ErrTransport, err)
	}

	res := &VerifyResult{Status: env.status()}
	log.Info("Gateway verification status", zap.String("status", res.Status))
	return res, nil
}

// do sends the request and reads the whole body.
func (g *paystackGateway) do(req *http.Request) ([]byte, int, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	return body, resp.StatusCode, nil
}

func withQuery(base string, q url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}
