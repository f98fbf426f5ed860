package payment

import (
	"errors"
	"strings"
)

type Provider string

const (
	ProviderMTN        Provider = "MTN"
	ProviderAirtelTigo Provider = "AirtelTigo"
	ProviderTelecel    Provider = "Telecel"
)

var ErrUnknownProvider = errors.New("unknown mobile money provider")

var providerCodes = map[Provider]string{
	ProviderMTN:        "mtn",
	ProviderAirtelTigo: "atl",
	ProviderTelecel:    "vod",
}

// Providers lists the supported networks in display order.
func Providers() []Provider {
	return []Provider{ProviderMTN, ProviderAirtelTigo, ProviderTelecel}
}

// Code returns the gateway code for the provider.
func (p Provider) Code() (string, error) {
	code, ok := providerCodes[p]
	if !ok {
		return "", ErrUnknownProvider
	}
	return code, nil
}

// ParseProvider accepts the display value, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers() {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", ErrUnknownProvider
}

// Gateway charge/verification statuses.
const (
	StatusSendOtp    = "send_otp"
	StatusPayOffline = "pay_offline"
	StatusSuccess    = "success"

	CodeInvalidOtp = "invalid_otp"
)

type MobileMoney struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
}

type ChargeRequest struct {
	Amount      float64     `json:"amount"`
	MobileMoney MobileMoney `json:"mobile_money"`
	CustomerID  string      `json:"customerId"`
	OrderID     string      `json:"orderId"`
}

type ChargeResult struct {
	Status      string `json:"status"`
	DisplayText string `json:"display_text,omitempty"`
	Reference   string `json:"reference"`
}

// chargeEnvelope mirrors result1.response.result.data.
type chargeEnvelope struct {
	Result1 *struct {
		Response *struct {
			Result *struct {
				Data *ChargeResult `json:"data"`
			} `json:"result"`
		} `json:"response"`
	} `json:"result1"`
}

func (e chargeEnvelope) data() ChargeResult {
	if e.Result1 == nil || e.Result1.Response == nil || e.Result1.Response.Result == nil || e.Result1.Response.Result.Data == nil {
		return ChargeResult{}
	}
	return *e.Result1.Response.Result.Data
}

type OtpData struct {
	Status      string `json:"status"`
	DisplayText string `json:"display_text,omitempty"`
}

// OtpResult is the gateway's own verdict, which travels inside the body
// independently of the HTTP status.
type OtpResult struct {
	Status  int
	Data    *OtpData
	Code    string
	Message string
}

type otpEnvelope struct {
	Response *struct {
		Status int `json:"status"`
		Result *struct {
			Data    *OtpData `json:"data"`
			Code    string   `json:"code"`
			Message string   `json:"message"`
		} `json:"result"`
	} `json:"response"`
}

func (e otpEnvelope) result() OtpResult {
	if e.Response == nil {
		return OtpResult{}
	}
	res := OtpResult{Status: e.Response.Status}
	if r := e.Response.Result; r != nil {
		res.Data = r.Data
		res.Code = r.Code
		res.Message = r.Message
	}
	return res
}

type VerifyResult struct {
	Status string
}

func (r *VerifyResult) Settled() bool {
	return r != nil && r.Status == StatusSuccess
}

type verifyEnvelope struct {
	Response *struct {
		Result *struct {
			Data *struct {
				Status string `json:"status"`
			} `json:"data"`
		} `json:"result"`
	} `json:"response"`
}

func (e verifyEnvelope) status() string {
	if e.Response == nil || e.Response.Result == nil || e.Response.Result.Data == nil {
		return ""
	}
	return e.Response.Result.Data.Status
}
