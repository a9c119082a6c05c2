package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/database"
	"github.com/example/bookstore/internal/models"
)

var testRates = ShippingRates{Standard: 80, Express: 150}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect("sqlite://:memory:", "silent", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, p models.Product) *models.Product {
	t.Helper()
	if p.DiscountType == "" {
		p.DiscountType = models.DiscountNone
	}
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func seedCoupon(t *testing.T, db *gorm.DB, c models.Coupon) *models.Coupon {
	t.Helper()
	require.NoError(t, db.Create(&c).Error)
	return &c
}

func reloadProduct(t *testing.T, db *gorm.DB, p *models.Product) models.Product {
	t.Helper()
	var got models.Product
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	return got
}

func countOrders(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Order{}).Count(&n).Error)
	return n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recordingSender remembers every notice it was asked to deliver.
type recordingSender struct {
	mu      sync.Mutex
	notices []Notice
	orders  []models.Order
	err     error
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, notice Notice, order models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	r.orders = append(r.orders, order)
	return r.err
}

func (r *recordingSender) count(notice Notice) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.notices {
		if got == notice {
			n++
		}
	}
	return n
}

// fakeGateway stands in for SSLCommerz.
type fakeGateway struct {
	mu          sync.Mutex
	sessionErr  error
	validation  *Validation
	validateErr error
	sessions    []string
	validations int
	// onValidate runs before the validation answer, while the callback lock is held.
	onValidate func()
}

func (g *fakeGateway) InitiateSession(_ context.Context, order *models.Order, tranID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, tranID)
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return &Session{
		GatewayURL:    "https://gateway.test/pay/" + tranID,
		SessionKey:    "session-" + order.OrderNumber,
		TransactionID: tranID,
	}, nil
}

func (g *fakeGateway) ValidateTransaction(_ context.Context, valID string) (*Validation, error) {
	if g.onValidate != nil {
		g.onValidate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validations++
	if g.validateErr != nil {
		return nil, g.validateErr
	}
	if g.validation == nil {
		return &Validation{Status: "INVALID_TRANSACTION", ValID: valID}, nil
	}
	v := *g.validation
	v.ValID = valID
	return &v, nil
}

func (g *fakeGateway) validationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validations
}
