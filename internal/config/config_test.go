package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		// t.Setenv restores the environment after the test.
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("DB_USER", "testuser")
		t.Setenv("DB_PASSWORD", "testpass")
		t.Setenv("DB_NAME", "testdb")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("APP_PORT", "9090")
		t.Setenv("APP_ENV", "test")
		t.Setenv("STORE_BACKEND", "postgres")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("CHARGE_API", "http://gw.local/charge")
		t.Setenv("CHARGE_API_OTP", "http://gw.local/otp")
		t.Setenv("CHARGE_API_VERIFY", "http://gw.local/verify")
		t.Setenv("GATEWAY_TIMEOUT_SECONDS", "5")
		t.Setenv("PAYMENT_COOLDOWN_SECONDS", "30")
		t.Setenv("PAYMENT_MAX_OTP_ATTEMPTS", "3")
		t.Setenv("PAYMENT_MAX_VERIFY_ATTEMPTS", "10")

		cfg := LoadConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "testuser", cfg.DBUser)
		assert.Equal(t, "testpass", cfg.DBPassword)
		assert.Equal(t, "testdb", cfg.DBName)
		assert.Equal(t, "5433", cfg.DBPort)
		assert.Equal(t, "9090", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, "postgres", cfg.StoreBackend)
		assert.Equal(t, "secret", cfg.JWTSecret)
		assert.Equal(t, "http://gw.local/charge", cfg.ChargeURL)
		assert.Equal(t, "http://gw.local/otp", cfg.OtpURL)
		assert.Equal(t, "http://gw.local/verify", cfg.VerifyURL)
		assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, 30*time.Second, cfg.VerifyCooldown)
		assert.Equal(t, 3, cfg.MaxOtpAttempts)
		assert.Equal(t, 10, cfg.MaxVerifyAttempts)
	})

	t.Run("Defaults", func(t *testing.T) {
		for _, k := range []string{
			"APP_PORT", "STORE_BACKEND", "CHARGE_API", "CHARGE_API_OTP", "CHARGE_API_VERIFY",
			"GATEWAY_TIMEOUT_SECONDS", "PAYMENT_COOLDOWN_SECONDS",
			"PAYMENT_MAX_OTP_ATTEMPTS", "PAYMENT_MAX_VERIFY_ATTEMPTS", "CORS_ORIGIN", "PAYMENT_DIALOG_TTL_MINUTES",
		} {
			t.Setenv(k, "")
		}
		t.Setenv("PAYMENT_MAX_OTP_ATTEMPTS", "not-a-number")

		cfg := LoadConfig()

		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, "memory", cfg.StoreBackend)
		assert.Equal(t, "http://localhost:3000", cfg.CORSOrigin)
		assert.Equal(t, 30*time.Minute, cfg.DialogTTL)
		assert.Equal(t, defaultChargeURL, cfg.ChargeURL)
		assert.Equal(t, defaultOtpURL, cfg.OtpURL)
		assert.Equal(t, defaultVerifyURL, cfg.VerifyURL)
		assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, 15*time.Second, cfg.VerifyCooldown)
		assert.Equal(t, 5, cfg.MaxOtpAttempts)
		assert.Equal(t, 20, cfg.MaxVerifyAttempts)
	})
}
