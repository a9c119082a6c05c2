package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bookstore/internal/models"
)

func testSSLCommerz(t *testing.T, handler http.HandlerFunc) *SSLCommerzService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSSLCommerzService(SSLCommerzConfig{
		StoreID:       "teststore",
		StorePassword: "testpass",
		BaseURL:       srv.URL,
		SuccessURL:    "https://api.test/api/payment/success",
		FailURL:       "https://api.test/api/payment/fail",
		CancelURL:     "https://api.test/api/payment/cancel",
		IPNURL:        "https://api.test/api/payment/ipn",
	})
}

func sampleOrder() *models.Order {
	return &models.Order{
		BaseModel:     models.BaseModel{ID: uuid.New()},
		OrderNumber:   "25030001",
		CustomerName:  "Rahim Uddin",
		CustomerPhone: "01700000000",
		StreetAddress: "House 12",
		TotalCost:     580,
		Currency:      "BDT",
		Items: []models.OrderItem{
			{Title: "Aranyak", Quantity: 1, UnitPrice: 500, LineTotal: 500},
		},
	}
}

func TestInitiateSessionSendsOrderAndReadsGatewayURL(t *testing.T) {
	var form url.Values
	gw := testSSLCommerz(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sslcommerzSessionAPI, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"SUCCESS","sessionkey":"SK1","GatewayPageURL":"https://pay.test/SK1"}`))
	})

	order := sampleOrder()
	session, err := gw.InitiateSession(context.Background(), order, "25030001-1")
	require.NoError(t, err)

	assert.Equal(t, "https://pay.test/SK1", session.GatewayURL)
	assert.Equal(t, "SK1", session.SessionKey)
	assert.Equal(t, "25030001-1", session.TransactionID)

	assert.Equal(t, "teststore", form.Get("store_id"))
	assert.Equal(t, "580.00", form.Get("total_amount"))
	assert.Equal(t, "BDT", form.Get("currency"))
	assert.Equal(t, "25030001-1", form.Get("tran_id"))
	assert.Equal(t, "https://api.test/api/payment/ipn", form.Get("ipn_url"))
	assert.Equal(t, order.ID.String(), form.Get("value_a"))
	assert.Equal(t, "Aranyak", form.Get("product_name"))
	assert.Equal(t, "Dhaka", form.Get("cus_city"))
	assert.Equal(t, "customer@example.com", form.Get("cus_email"))
	assert.Equal(t, "1", form.Get("num_of_item"))
}

func TestInitiateSessionFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"refused", http.StatusOK, `{"status":"FAILED","failedreason":"Store Credential Error"}`},
		{"no url", http.StatusOK, `{"status":"SUCCESS"}`},
		{"server error", http.StatusBadGateway, `upstream down`},
		{"garbage", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := testSSLCommerz(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := gw.InitiateSession(context.Background(), sampleOrder(), "25030001-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPaymentInitiation)
		})
	}
}

func TestValidateTransaction(t *testing.T) {
	gw := testSSLCommerz(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sslcommerzValidation, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "VAL123", q.Get("val_id"))
		assert.Equal(t, "teststore", q.Get("store_id"))
		assert.Equal(t, "json", q.Get("format"))
		_, _ = w.Write([]byte(`{"status":"VALID","tran_id":"25030001-1","val_id":"VAL123","amount":"580.00","card_type":"BKASH-BKash","bank_tran_id":"B1"}`))
	})

	v, err := gw.ValidateTransaction(context.Background(), "VAL123")
	require.NoError(t, err)
	assert.True(t, v.Valid())
	assert.Equal(t, "25030001-1", v.TransactionID)
	assert.Equal(t, "580", v.Amount.String())
	assert.Equal(t, "B1", v.BankTransactionID)
	assert.Contains(t, string(v.Raw), "BKASH-BKash")
}

func TestValidateTransactionErrors(t *testing.T) {
	gw := testSSLCommerz(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := gw.ValidateTransaction(context.Background(), "")
	assert.ErrorIs(t, err, ErrPaymentValidation)

	_, err = gw.ValidateTransaction(context.Background(), "VAL123")
	assert.ErrorIs(t, err, ErrPaymentValidation)
}

func TestVerifySignature(t *testing.T) {
	gw := NewSSLCommerzService(SSLCommerzConfig{StoreID: "teststore", StorePassword: "testpass"})

	fields := map[string]string{
		"tran_id":     "25030001-1741946400000",
		"val_id":      "VAL123",
		"amount":      "580.00",
		"status":      "VALID",
		"card_type":   "VISA",
		"verify_key":  "amount,status,tran_id,val_id",
		"verify_sign": "b50d227556ea459128675c7608c7ec5d",
	}
	assert.True(t, gw.VerifySignature(fields))

	tampered := make(map[string]string, len(fields))
	for k, v := range fields {
		tampered[k] = v
	}
	tampered["amount"] = "1.00"
	assert.False(t, gw.VerifySignature(tampered))

	delete(tampered, "verify_sign")
	assert.False(t, gw.VerifySignature(tampered))

	other := NewSSLCommerzService(SSLCommerzConfig{StoreID: "teststore", StorePassword: "wrong"})
	assert.False(t, other.VerifySignature(fields))
}
