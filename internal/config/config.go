package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppEnv  string
	AppPort string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	RedisAddr string

	Currency string

	// Pricing policy. Centralized here so no module carries its own constants.
	TaxRate                decimal.Decimal
	ShippingFlatRate       decimal.Decimal
	ShippingExpressRate    decimal.Decimal
	ExpressWeightThreshold int

	// Saga timing policy.
	ReservationTTL    time.Duration
	PaymentAuthWindow time.Duration
	ReturnWindow      time.Duration
	SweepInterval     time.Duration

	// Gateway.
	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	GatewayMaxAttempts   int
	GatewayRetryBase     time.Duration

	JWTSecret string
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:  os.Getenv("APP_ENV"),
		AppPort: envOr("APP_PORT", "8080"),

		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     envOr("DB_PORT", "5432"),

		RedisAddr: envOr("REDIS_ADDR", "localhost:6379"),

		Currency: envOr("CURRENCY", "USD"),

		TaxRate:                envDecimal("TAX_RATE", "0"),
		ShippingFlatRate:       envDecimal("SHIPPING_FLAT_RATE", "8"),
		ShippingExpressRate:    envDecimal("SHIPPING_EXPRESS_RATE", "20"),
		ExpressWeightThreshold: envInt("EXPRESS_WEIGHT_THRESHOLD", 10),

		ReservationTTL:    envDuration("RESERVATION_TTL", 15*time.Minute),
		PaymentAuthWindow: envDuration("PAYMENT_AUTH_WINDOW", 30*time.Minute),
		ReturnWindow:      envDuration("RETURN_WINDOW", 30*24*time.Hour),
		SweepInterval:     envDuration("SWEEP_INTERVAL", time.Minute),

		GatewayBaseURL:       envOr("GATEWAY_BASE_URL", "https://api.gateway.example"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		GatewayMaxAttempts:   envInt("GATEWAY_MAX_ATTEMPTS", 3),
		GatewayRetryBase:     envDuration("GATEWAY_RETRY_BASE", 500*time.Millisecond),

		JWTSecret: os.Getenv("SECRET_KEY"),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}

func envDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}
