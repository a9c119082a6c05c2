package handlers

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/bookstore/internal/middleware"
	"github.com/example/bookstore/internal/services"
)

// PaymentHandler serves session initiation and the gateway callbacks.
type PaymentHandler struct {
	payments    *services.PaymentService
	frontendURL string
	log         zerolog.Logger
}

func NewPaymentHandler(payments *services.PaymentService, frontendURL string, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:    payments,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
	}
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId"`
}

// Initiate opens a hosted payment session for an order.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	id, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid orderId")
	}

	session, err := h.payments.InitiatePayment(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"paymentUrl":    session.PaymentURL,
		"sessionkey":    session.SessionKey,
		"transactionId": session.TransactionID,
	})
}

// Success handles the buyer returning from a completed payment.
func (h *PaymentHandler) Success(c *fiber.Ctx) (err error) {
	defer h.recoverRedirect(c, &err)

	p := services.ParseCallback(middleware.FormFields(c))
	return h.redirect(c, h.payments.HandleSuccess(c.UserContext(), p))
}

// Fail handles the buyer returning from a declined payment.
func (h *PaymentHandler) Fail(c *fiber.Ctx) (err error) {
	defer h.recoverRedirect(c, &err)

	p := services.ParseCallback(middleware.FormFields(c))
	return h.redirect(c, h.payments.HandleAbort(c.UserContext(), p, services.ReasonPaymentFailed))
}

// Cancel handles the buyer abandoning the payment page.
func (h *PaymentHandler) Cancel(c *fiber.Ctx) (err error) {
	defer h.recoverRedirect(c, &err)

	p := services.ParseCallback(middleware.FormFields(c))
	return h.redirect(c, h.payments.HandleAbort(c.UserContext(), p, services.ReasonPaymentCanceled))
}

// IPN handles the gateway's signed server-to-server notification.
func (h *PaymentHandler) IPN(c *fiber.Ctx) error {
	p := services.ParseCallback(middleware.FormFields(c))
	outcome := h.payments.HandleNotification(c.UserContext(), p)

	status := fiber.StatusOK
	if outcome.Kind == services.OutcomeError && outcome.Reason == services.ReasonInternal {
		// Ask the gateway to retry.
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(fiber.Map{
		"success": outcome.Kind == services.OutcomeSuccess,
		"status":  outcome.Kind,
		"orderId": outcome.OrderID,
		"reason":  outcome.Reason,
	})
}

// RedirectURL maps a reconciliation outcome to the storefront page for it.
func (h *PaymentHandler) RedirectURL(o services.Outcome) string {
	q := url.Values{}
	switch o.Kind {
	case services.OutcomeSuccess:
		q.Set("orderId", o.OrderID)
		return h.frontendURL + "/payment/success?" + q.Encode()
	case services.OutcomeFailure:
		q.Set("orderId", o.OrderID)
		q.Set("reason", o.Reason)
		return h.frontendURL + "/payment/fail?" + q.Encode()
	default:
		reason := o.Reason
		if reason == "" {
			reason = services.ReasonInternal
		}
		q.Set("reason", reason)
		return h.frontendURL + "/payment/error?" + q.Encode()
	}
}

func (h *PaymentHandler) redirect(c *fiber.Ctx, o services.Outcome) error {
	return redirectOnce(c, h.RedirectURL(o))
}

// recoverRedirect turns a panic in a callback into a redirect to the error page.
func (h *PaymentHandler) recoverRedirect(c *fiber.Ctx, err *error) {
	if r := recover(); r != nil {
		h.log.Error().Interface("panic", r).Str("path", c.Path()).Msg("payment callback panicked")
		*err = h.redirect(c, services.Outcome{Kind: services.OutcomeError, Reason: services.ReasonInternal})
	}
}

// redirectOnce does nothing when a redirect was already written.
func redirectOnce(c *fiber.Ctx, target string) error {
	if len(c.Response().Header.Peek(fiber.HeaderLocation)) > 0 {
		return nil
	}
	return c.Redirect(target, fiber.StatusFound)
}
