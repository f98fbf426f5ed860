package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) *http.Response

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

type MockRoundTripperWithError func(req *http.Request) (*http.Response, error)

func (f MockRoundTripperWithError) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newTestGateway() *paystackGateway {
	return NewPaystackGateway(GatewayConfig{
		ChargeURL: "https://gw.test/charge",
		OtpURL:    "https://gw.test/charge/otp",
		VerifyURL: "https://gw.test/verify/payment",
	}).(*paystackGateway)
}

func TestPaystackGateway_Charge(t *testing.T) {
	gw := newTestGateway()
	req := ChargeRequest{
		Amount:      25.00,
		MobileMoney: MobileMoney{Phone: "0551234567", Provider: "mtn"},
		CustomerID:  "CUST1",
		OrderID:     "ORD1",
	}

	t.Run("SendOtp", func(t *testing.T) {
		respBody := `{"result1":{"response":{"result":{"data":{
			"status":"send_otp","display_text":"Enter the code","reference":"REF-1"}}}}}`

		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "https://gw.test/charge", r.URL.String())
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var sent map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
			assert.Equal(t, 25.0, sent["amount"])
			assert.Equal(t, "CUST1", sent["customerId"])
			assert.Equal(t, "ORD1", sent["orderId"])
			assert.Equal(t, map[string]interface{}{"phone": "0551234567", "provider": "mtn"}, sent["mobile_money"])

			return jsonResponse(http.StatusOK, respBody)
		})

		res, err := gw.Charge(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, StatusSendOtp, res.Status)
		assert.Equal(t, "REF-1", res.Reference)
		assert.Equal(t, "Enter the code", res.DisplayText)
	})

	t.Run("MissingEnvelope", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"result1":{}}`)
		})

		res, err := gw.Charge(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "", res.Status)
		assert.Equal(t, "", res.Reference)
	})

	t.Run("APIError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusBadRequest, `{"message":"bad"}`)
		})

		_, err := gw.Charge(context.Background(), req)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "gateway charge error")
		assert.False(t, errors.Is(err, ErrTransport))
	})

	t.Run("NetworkError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripperWithError(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})

		_, err := gw.Charge(context.Background(), req)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.True(t, errors.Is(err, ErrTransport))
	})

	t.Run("InvalidJSONResponse", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{invalid-json`)
		})

		_, err := gw.Charge(context.Background(), req)
		assert.True(t, errors.Is(err, ErrTransport))
	})
}

func TestPaystackGateway_SubmitOtp(t *testing.T) {
	gw := newTestGateway()

	t.Run("PayOffline", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/charge/otp", r.URL.Path)
			assert.Equal(t, "123456", r.URL.Query().Get("otp"))
			assert.Equal(t, "REF-1", r.URL.Query().Get("reference"))
			return jsonResponse(http.StatusOK, `{"response":{"status":200,"result":{"data":{"status":"pay_offline","display_text":"Approve on phone"}}}}`)
		})

		res, err := gw.SubmitOtp(context.Background(), "123456", "REF-1")
		require.NoError(t, err)
		assert.Equal(t, 200, res.Status)
		require.NotNil(t, res.Data)
		assert.Equal(t, StatusPayOffline, res.Data.Status)
		assert.Equal(t, "Approve on phone", res.Data.DisplayText)
	})

	t.Run("InvalidOtpWithHTTPError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusBadRequest, `{"response":{"status":400,"result":{"code":"invalid_otp","message":"Wrong code"}}}`)
		})

		res, err := gw.SubmitOtp(context.Background(), "000000", "REF-1")
		require.NoError(t, err)
		assert.Equal(t, 400, res.Status)
		assert.Equal(t, CodeInvalidOtp, res.Code)
		assert.Equal(t, "Wrong code", res.Message)
		assert.Nil(t, res.Data)
	})

	t.Run("ReferenceIsEscaped", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			assert.Equal(t, "a&b=c", r.URL.Query().Get("reference"))
			return jsonResponse(http.StatusOK, `{}`)
		})

		res, err := gw.SubmitOtp(context.Background(), "123456", "a&b=c")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Status)
	})

	t.Run("NetworkError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripperWithError(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("timeout")
		})

		_, err := gw.SubmitOtp(context.Background(), "123456", "REF-1")
		assert.True(t, errors.Is(err, ErrTransport))
	})

	t.Run("InvalidJSONResponse", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusBadGateway, `<html>bad gateway</html>`)
		})

		_, err := gw.SubmitOtp(context.Background(), "123456", "REF-1")
		assert.True(t, errors.Is(err, ErrTransport))
	})
}

func TestPaystackGateway_VerifyPayment(t *testing.T) {
	gw := newTestGateway()

	t.Run("Success", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "REF-1", r.URL.Query().Get("reference"))
			return jsonResponse(http.StatusOK, `{"response":{"result":{"data":{"status":"success"}}}}`)
		})

		res, err := gw.VerifyPayment(context.Background(), "REF-1")
		require.NoError(t, err)
		assert.True(t, res.Settled())
	})

	t.Run("Pending", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripper(func(r *http.Request) *http.Response {
			return jsonResponse(http.StatusOK, `{"response":{"result":{"data":{"status":"ongoing"}}}}`)
		})

		res, err := gw.VerifyPayment(context.Background(), "REF-1")
		require.NoError(t, err)
		assert.Equal(t, "ongoing", res.Status)
		assert.False(t, res.Settled())
	})

	t.Run("NetworkError", func(t *testing.T) {
		gw.httpClient.Transport = MockRoundTripperWithError(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		})

		_, err := gw.VerifyPayment(context.Background(), "REF-1")
		assert.True(t, errors.Is(err, ErrTransport))
	})
}

func TestProvider(t *testing.T) {
	cases := map[Provider]string{
		ProviderMTN:        "mtn",
		ProviderAirtelTigo: "atl",
		ProviderTelecel:    "vod",
	}
	for p, want := range cases {
		code, err := p.Code()
		assert.NoError(t, err)
		assert.Equal(t, want, code)
	}

	_, err := Provider("Vodafone").Code()
	assert.ErrorIs(t, err, ErrUnknownProvider)

	p, err := ParseProvider(" airteltigo ")
	assert.NoError(t, err)
	assert.Equal(t, ProviderAirtelTigo, p)

	_, err = ParseProvider("")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewPaystackGateway_DefaultTimeout(t *testing.T) {
	gw := newTestGateway()
	assert.Equal(t, defaultTimeout, gw.httpClient.Timeout)
}
