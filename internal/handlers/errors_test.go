package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/example/bookstore/internal/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"fiber error", fiber.NewError(fiber.StatusTeapot, "short and stout"), fiber.StatusTeapot, "short and stout"},
		{"plain error", errors.New("pq: connection refused"), fiber.StatusInternalServerError, "internal server error"},
		{"validation", &services.Error{Kind: services.KindValidation, Message: "products must not be empty"}, fiber.StatusBadRequest, "products must not be empty"},
		{"not found", &services.Error{Kind: services.KindNotFound, Message: "order not found"}, fiber.StatusNotFound, "order not found"},
		{"stock", &services.Error{Kind: services.KindInsufficientStock, Message: "only 1 left"}, fiber.StatusBadRequest, "only 1 left"},
		{"inactive", &services.Error{Kind: services.KindInactiveResource, Message: "not available"}, fiber.StatusBadRequest, "not available"},
		{"transition", &services.Error{Kind: services.KindInvalidTransition, Message: "cannot"}, fiber.StatusBadRequest, "cannot"},
		{"invalid coupon", &services.Error{Kind: services.KindInvalidCoupon, Message: "expired"}, fiber.StatusBadRequest, "expired"},
		{
			"missing coupon",
			&services.Error{Kind: services.KindInvalidCoupon, Message: `coupon "X" does not exist`, Err: &services.Error{Kind: services.KindNotFound, Message: "coupon not found"}},
			fiber.StatusNotFound,
			`coupon "X" does not exist`,
		},
		{"conflict", &services.Error{Kind: services.KindConflict, Message: "please retry", Err: errors.New("deadlock detected")}, fiber.StatusConflict, "please retry"},
		{"gateway", &services.Error{Kind: services.KindPaymentInitiation, Message: "could not open payment session"}, fiber.StatusInternalServerError, "could not open payment session"},
		{"wrapped service error", fmt.Errorf("handler: %w", &services.Error{Kind: services.KindValidation, Message: "bad"}), fiber.StatusBadRequest, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := statusFor(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestRedirectURL(t *testing.T) {
	h := NewPaymentHandler(nil, "https://shop.test/", zerolog.Nop())

	assert.Equal(t, "https://shop.test/payment/success?orderId=abc",
		h.RedirectURL(services.Outcome{Kind: services.OutcomeSuccess, OrderID: "abc"}))
	assert.Equal(t, "https://shop.test/payment/fail?orderId=abc&reason=amount_mismatch",
		h.RedirectURL(services.Outcome{Kind: services.OutcomeFailure, OrderID: "abc", Reason: services.ReasonAmountMismatch}))
	assert.Equal(t, "https://shop.test/payment/error?reason=order_not_found",
		h.RedirectURL(services.Outcome{Kind: services.OutcomeError, Reason: services.ReasonOrderNotFound}))
	assert.Equal(t, "https://shop.test/payment/error?reason=internal_error",
		h.RedirectURL(services.Outcome{}))
}
