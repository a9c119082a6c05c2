package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/bookstore/internal/models"
)

// TelegramService posts order notices to the admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
}

// NewTelegramService returns nil when the bot or the admin chat is not configured.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	if botToken == "" || adminChatID == "" {
		return nil
	}
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     "https://api.telegram.org",
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *TelegramService) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML message to the admin chat.
func (s *TelegramService) SendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    s.adminChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// Send formats the order for admins.
func (s *TelegramService) Send(ctx context.Context, notice Notice, order models.Order) error {
	return s.SendMessage(ctx, FormatOrderMessage(notice, order))
}

// FormatPrice formats an amount with thousand separators and the currency code.
func FormatPrice(amount float64, currency string) string {
	if currency == "" {
		currency = "BDT"
	}
	str := fmt.Sprintf("%d", int64(amount))

	var result strings.Builder
	if strings.HasPrefix(str, "-") {
		result.WriteByte('-')
		str = str[1:]
	}
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + " " + currency
}

// FormatOrderMessage renders the admin chat message for an order notice.
func FormatOrderMessage(notice Notice, order models.Order) string {
	if notice == NoticePaymentConfirmed {
		return strings.TrimSpace(fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Order:</b> %s
<b>Transaction:</b> %s
<b>Amount:</b> %s
<b>Method:</b> %s`,
			order.OrderNumber,
			derefString(order.SSLCommerzTransactionID),
			FormatPrice(order.TotalCost, order.Currency),
			order.PaymentMethod,
		))
	}

	var items strings.Builder
	for i, item := range order.Items {
		items.WriteString(fmt.Sprintf("%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			item.Title,
			item.Quantity,
			FormatPrice(item.UnitPrice, order.Currency),
			FormatPrice(item.LineTotal, order.Currency),
		))
	}

	return strings.TrimSpace(fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>Order:</b> %s
<b>Customer:</b> %s
<b>Phone:</b> %s
<b>Items:</b>
%s
<b>Total:</b> %s
<b>Payment:</b> %s (%s)`,
		order.OrderNumber,
		order.CustomerName,
		order.CustomerPhone,
		items.String(),
		FormatPrice(order.TotalCost, order.Currency),
		order.PaymentMethod,
		order.PaymentStatus,
	))
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
