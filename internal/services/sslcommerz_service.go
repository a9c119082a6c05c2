package services

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/bookstore/internal/models"
)

const (
	sslcommerzSandboxURL = "https://sandbox.sslcommerz.com"
	sslcommerzLiveURL    = "https://securepay.sslcommerz.com"
	sslcommerzSessionAPI = "/gwprocess/v4/api.php"
	sslcommerzValidation = "/validator/api/validationserverAPI.php"
)

// SSLCommerzConfig is everything the adapter needs; it never reads the environment.
type SSLCommerzConfig struct {
	StoreID       string
	StorePassword string
	Sandbox       bool
	// BaseURL overrides the sandbox/live host.
	BaseURL  string
	Timeout  time.Duration
	Currency string

	SuccessURL string
	FailURL    string
	CancelURL  string
	IPNURL     string
}

// Session is an opened hosted-payment session.
type Session struct {
	GatewayURL    string
	SessionKey    string
	TransactionID string
}

// Validation is the gateway's record of a transaction.
type Validation struct {
	Status            string          `json:"status"`
	TransactionID     string          `json:"tran_id"`
	ValID             string          `json:"val_id"`
	Amount            decimal.Decimal `json:"amount"`
	StoreAmount       decimal.Decimal `json:"store_amount"`
	Currency          string          `json:"currency"`
	CardType          string          `json:"card_type"`
	CardNo            string          `json:"card_no"`
	CardIssuer        string          `json:"card_issuer"`
	CardBrand         string          `json:"card_brand"`
	BankTransactionID string          `json:"bank_tran_id"`
	TranDate          string          `json:"tran_date"`
	RiskLevel         string          `json:"risk_level"`
	RiskTitle         string          `json:"risk_title"`
	Raw               json.RawMessage `json:"-"`
}

// Valid reports whether the gateway accepted the payment.
func (v *Validation) Valid() bool {
	return v.Status == "VALID" || v.Status == "VALIDATED"
}

// PaymentGateway is the hosted payment provider.
type PaymentGateway interface {
	InitiateSession(ctx context.Context, order *models.Order, transactionID string) (*Session, error)
	ValidateTransaction(ctx context.Context, valID string) (*Validation, error)
}

// SSLCommerzService talks to the SSLCommerz v4 API.
type SSLCommerzService struct {
	cfg    SSLCommerzConfig
	client *http.Client
}

func NewSSLCommerzService(cfg SSLCommerzConfig) *SSLCommerzService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = sslcommerzLiveURL
		if cfg.Sandbox {
			cfg.BaseURL = sslcommerzSandboxURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SSLCommerzService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type sslcommerzSessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// InitiateSession opens a hosted payment page for the order's total.
func (s *SSLCommerzService) InitiateSession(ctx context.Context, order *models.Order, transactionID string) (*Session, error) {
	form := s.sessionForm(order, transactionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+sslcommerzSessionAPI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, wrapError(KindPaymentInitiation, err, "build session request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := s.do(req)
	if err != nil {
		return nil, wrapError(KindPaymentInitiation, err, "payment gateway unreachable")
	}
	if status < 200 || status >= 300 {
		return nil, newError(KindPaymentInitiation, "payment gateway returned status %d: %s", status, truncate(string(body), 512))
	}

	var resp sslcommerzSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapError(KindPaymentInitiation, err, "decode session response")
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		reason := resp.FailedReason
		if reason == "" {
			reason = "no gateway url returned"
		}
		return nil, newError(KindPaymentInitiation, "payment session refused: %s", reason)
	}

	return &Session{
		GatewayURL:    resp.GatewayPageURL,
		SessionKey:    resp.SessionKey,
		TransactionID: transactionID,
	}, nil
}

func (s *SSLCommerzService) sessionForm(order *models.Order, transactionID string) url.Values {
	names := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		names = append(names, item.Title)
	}
	productName := strings.Join(names, ", ")
	if productName == "" {
		productName = "Books"
	}

	city := order.City.Name
	if city == "" {
		city = "Dhaka"
	}
	email := order.CustomerEmail
	if email == "" {
		email = "customer@example.com"
	}
	currency := order.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	form := url.Values{}
	form.Set("store_id", s.cfg.StoreID)
	form.Set("store_passwd", s.cfg.StorePassword)
	form.Set("total_amount", decimal.NewFromFloat(order.TotalCost).StringFixed(2))
	form.Set("currency", currency)
	form.Set("tran_id", transactionID)
	form.Set("success_url", s.cfg.SuccessURL)
	form.Set("fail_url", s.cfg.FailURL)
	form.Set("cancel_url", s.cfg.CancelURL)
	form.Set("ipn_url", s.cfg.IPNURL)
	form.Set("value_a", order.ID.String())
	form.Set("value_b", order.OrderNumber)

	form.Set("cus_name", order.CustomerName)
	form.Set("cus_email", email)
	form.Set("cus_phone", order.CustomerPhone)
	form.Set("cus_add1", order.StreetAddress)
	form.Set("cus_city", city)
	form.Set("cus_country", "Bangladesh")

	form.Set("shipping_method", "Courier")
	form.Set("num_of_item", strconv.Itoa(len(order.Items)))
	form.Set("ship_name", order.CustomerName)
	form.Set("ship_add1", order.StreetAddress)
	form.Set("ship_area", order.Area.Name)
	form.Set("ship_city", city)
	form.Set("ship_postcode", "1000")
	form.Set("ship_country", "Bangladesh")

	form.Set("product_name", truncate(productName, 255))
	form.Set("product_category", "Books")
	form.Set("product_profile", "physical-goods")
	return form
}

// ValidateTransaction asks the gateway for its record of valID. It never touches the order.
func (s *SSLCommerzService) ValidateTransaction(ctx context.Context, valID string) (*Validation, error) {
	if strings.TrimSpace(valID) == "" {
		return nil, newError(KindPaymentValidation, "missing validation id")
	}

	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", s.cfg.StoreID)
	q.Set("store_passwd", s.cfg.StorePassword)
	q.Set("format", "json")
	q.Set("v", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+sslcommerzValidation+"?"+q.Encode(), nil)
	if err != nil {
		return nil, wrapError(KindPaymentValidation, err, "build validation request")
	}

	body, status, err := s.do(req)
	if err != nil {
		return nil, wrapError(KindPaymentValidation, err, "payment gateway unreachable")
	}
	if status < 200 || status >= 300 {
		return nil, newError(KindPaymentValidation, "validation returned status %d: %s", status, truncate(string(body), 512))
	}

	var v Validation
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, wrapError(KindPaymentValidation, err, "decode validation response")
	}
	v.Raw = body
	return &v, nil
}

// VerifySignature checks the verify_sign/verify_key pair the gateway attaches to
// notifications: the md5 of the listed fields plus md5(store password), sorted by key.
func (s *SSLCommerzService) VerifySignature(fields map[string]string) bool {
	sign := fields["verify_sign"]
	keyList := fields["verify_key"]
	if sign == "" || keyList == "" {
		return false
	}

	pwHash := md5.Sum([]byte(s.cfg.StorePassword))
	signed := map[string]string{"store_passwd": hex.EncodeToString(pwHash[:])}
	for _, k := range strings.Split(keyList, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		signed[k] = fields[k]
	}

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(signed[k])
	}

	sum := md5.Sum([]byte(b.String()))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sign))) == 1
}

func (s *SSLCommerzService) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
