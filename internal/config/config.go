package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultChargeURL = "https://api-server.krontiva.africa/api:uEBBwbSs/charge/api/paystack"
	defaultOtpURL    = "https://api-server.krontiva.africa/api:uEBBwbSs/charge/api/paystack/otp"
	defaultVerifyURL = "https://api-server.krontiva.africa/api:uEBBwbSs/charge/api/verify/payment"
)

type Config struct {
	AppPort string
	AppEnv  string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	// StoreBackend selects the session store: "memory" or "postgres".
	StoreBackend string
	JWTSecret    string
	CORSOrigin   string

	ChargeURL string
	OtpURL    string
	VerifyURL string

	GatewayTimeout    time.Duration
	VerifyCooldown    time.Duration
	MaxOtpAttempts    int
	MaxVerifyAttempts int
	DialogTTL         time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort: getEnv("APP_PORT", "8080"),
		AppEnv:  os.Getenv("APP_ENV"),

		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     getEnv("DB_PORT", "5432"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CORSOrigin:   getEnv("CORS_ORIGIN", "http://localhost:3000"),

		ChargeURL: getEnv("CHARGE_API", defaultChargeURL),
		OtpURL:    getEnv("CHARGE_API_OTP", defaultOtpURL),
		VerifyURL: getEnv("CHARGE_API_VERIFY", defaultVerifyURL),

		GatewayTimeout:    time.Duration(getEnvInt("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
		VerifyCooldown:    time.Duration(getEnvInt("PAYMENT_COOLDOWN_SECONDS", 15)) * time.Second,
		MaxOtpAttempts:    getEnvInt("PAYMENT_MAX_OTP_ATTEMPTS", 5),
		MaxVerifyAttempts: getEnvInt("PAYMENT_MAX_VERIFY_ATTEMPTS", 20),
		DialogTTL:         time.Duration(getEnvInt("PAYMENT_DIALOG_TTL_MINUTES", 30)) * time.Minute,
	}

	if cfg.StoreBackend == "postgres" && cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly: DB_HOST is required for the postgres store")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("invalid value %q for %s, using %d", v, key, fallback)
		return fallback
	}
	return n
}
