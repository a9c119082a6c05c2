package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/example/bookstore/internal/services"
)

// ErrorHandler writes every failed request as {"success": false, "message": ...}.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, message := statusFor(err)
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Msg("request failed")
		}
		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"message": message,
		})
	}
}

func statusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	var se *services.Error
	if !errors.As(err, &se) {
		return fiber.StatusInternalServerError, "internal server error"
	}

	// A missing coupon is reported as not found even though it is a coupon error.
	if errors.Is(err, services.ErrNotFound) {
		return fiber.StatusNotFound, se.Message
	}

	switch se.Kind {
	case services.KindValidation,
		services.KindInsufficientStock,
		services.KindInactiveResource,
		services.KindInvalidCoupon,
		services.KindInvalidTransition:
		return fiber.StatusBadRequest, se.Message
	case services.KindConflict:
		return fiber.StatusConflict, se.Message
	case services.KindPaymentInitiation, services.KindPaymentValidation:
		return fiber.StatusInternalServerError, se.Message
	}
	return fiber.StatusInternalServerError, "internal server error"
}
