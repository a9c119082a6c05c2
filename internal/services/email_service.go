package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"

	"github.com/example/bookstore/internal/models"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailService sends order emails to customers over SMTP.
type EmailService struct {
	cfg  EmailConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailService returns nil when SMTP is not configured, which the dispatcher skips.
func NewEmailService(cfg EmailConfig) *EmailService {
	if cfg.Host == "" {
		return nil
	}
	return &EmailService{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *EmailService) Name() string { return "email" }

var orderEmailTemplate = template.Must(template.New("order").Funcs(template.FuncMap{
	"money": func(v float64, currency string) string { return FormatPrice(v, currency) },
}).Parse(`<h2>{{.Heading}}</h2>
<p>Hi {{.Order.CustomerName}},</p>
<p>Order <b>{{.Order.OrderNumber}}</b></p>
<table>
{{range .Order.Items}}<tr><td>{{.Title}}</td><td>{{.Quantity}} x {{money .UnitPrice $.Order.Currency}}</td><td>{{money .LineTotal $.Order.Currency}}</td></tr>
{{end}}</table>
<p>Subtotal: {{money .Order.Subtotal .Order.Currency}}<br>
Shipping: {{money .Order.ShippingCost .Order.Currency}}<br>
{{if .Order.CouponDiscount}}Discount: -{{money .Order.CouponDiscount .Order.Currency}}<br>{{end}}
<b>Total: {{money .Order.TotalCost .Order.Currency}}</b></p>
<p>Payment: {{.Order.PaymentMethod}} ({{.Order.PaymentStatus}})</p>`))

// Send mails the customer a summary of the order.
func (s *EmailService) Send(ctx context.Context, notice Notice, order models.Order) error {
	if order.CustomerEmail == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, heading := "Order received: "+order.OrderNumber, "Thanks for your order"
	if notice == NoticePaymentConfirmed {
		subject, heading = "Payment confirmed: "+order.OrderNumber, "We received your payment"
	}

	var body bytes.Buffer
	if err := orderEmailTemplate.Execute(&body, map[string]any{"Heading": heading, "Order": order}); err != nil {
		return fmt.Errorf("render order email: %w", err)
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{order.CustomerEmail}
	e.Subject = subject
	e.HTML = body.Bytes()

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if s.send == nil {
		return errors.New("email transport not configured")
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	// The SMTP client takes no deadline; give up on ctx and let the send finish on its own.
	done := make(chan error, 1)
	go func() {
		done <- s.send(e, addr, auth)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send order email: %w", ctx.Err())
	}
}
