package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// SignatureVerifier checks a gateway notification's signature fields.
type SignatureVerifier interface {
	VerifySignature(fields map[string]string) bool
}

const notificationFieldsKey = "notificationFields"

// SSLCommerzSignature rejects gateway notifications whose verify_sign does not
// match. The parsed form is kept in context for the handler.
func SSLCommerzSignature(verifier SignatureVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fields := FormFields(c)
		if verifier == nil || !verifier.VerifySignature(fields) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "invalid signature",
			})
		}
		c.Locals(notificationFieldsKey, fields)
		return c.Next()
	}
}

// FormFields merges query and form parameters; form values win.
func FormFields(c *fiber.Ctx) map[string]string {
	if fields, ok := c.Locals(notificationFieldsKey).(map[string]string); ok {
		return fields
	}

	fields := make(map[string]string)
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		fields[string(k)] = string(v)
	})
	c.Context().PostArgs().VisitAll(func(k, v []byte) {
		fields[string(k)] = string(v)
	})
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for k, vs := range form.Value {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
	}
	return fields
}
