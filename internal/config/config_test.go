package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://shop.test/")
	t.Setenv("SSLCOMMERZ_SANDBOX", "false")
	t.Setenv("SSLCOMMERZ_TIMEOUT", "45")
	t.Setenv("SHIPPING_STANDARD_RATE", "60")
	t.Setenv("PAYMENT_SESSION_TTL", "30m")
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, "https://shop.test", cfg.FrontendURL)
	assert.False(t, cfg.SSLCommerzSandbox)
	assert.Equal(t, 45*time.Second, cfg.SSLCommerzTimeout)
	assert.Equal(t, 60.0, cfg.ShippingStandardRate)
	assert.Equal(t, 150.0, cfg.ShippingExpressRate)
	assert.Equal(t, 30*time.Minute, cfg.PaymentSessionTTL)
	assert.Equal(t, time.Minute, cfg.PaymentSweepInterval)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "BDT", cfg.Currency)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D_GO", "1h30m")
	t.Setenv("D_SECS", "90")
	t.Setenv("D_BAD", "soon")
	t.Setenv("D_EMPTY", " ")

	assert.Equal(t, 90*time.Minute, getEnvDuration("D_GO", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("D_SECS", 0))
	assert.Equal(t, time.Second, getEnvDuration("D_BAD", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("D_EMPTY", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("D_UNSET_FOR_TEST", time.Second))
}
