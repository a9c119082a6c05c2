package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/models"
)

type OrderServiceSuite struct {
	suite.Suite
	ctx    context.Context
	db     *gorm.DB
	sender *recordingSender
	notify *Dispatcher
	svc    *OrderService
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = newTestDB(s.T())
	s.sender = &recordingSender{}
	s.notify = NewDispatcher(zerolog.Nop(), s.sender)
	s.svc = NewOrderService(s.db, OrderServiceConfig{Rates: testRates}, s.notify, zerolog.Nop())
	s.svc.now = fixedClock(time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC))
}

func (s *OrderServiceSuite) TearDownTest() {
	s.notify.Wait()
}

func (s *OrderServiceSuite) book(title string, price float64, stock int) *models.Product {
	return seedProduct(s.T(), s.db, models.Product{Title: title, Price: price, Stock: stock, IsActive: true})
}

func checkout(lines ...LineRequest) CreateOrderInput {
	return CreateOrderInput{
		CustomerName:  "Rahim Uddin",
		CustomerPhone: "01700000000",
		CustomerEmail: "rahim@example.com",
		StreetAddress: "House 12, Road 5",
		City:          models.Location{ID: "1", Name: "Dhaka"},
		Products:      lines,
	}
}

func line(p *models.Product, qty int) LineRequest {
	return LineRequest{ProductID: p.ID.String(), Quantity: qty}
}

func (s *OrderServiceSuite) TestCreateOrderReservesStockAndPrices() {
	p := s.book("Padma Nadir Majhi", 500, 3)

	order, created, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	s.True(created)

	s.Equal("25030001", order.OrderNumber)
	s.Equal(models.OrderPending, order.OrderStatus)
	s.Equal(models.PaymentPending, order.PaymentStatus)
	s.Equal(models.PaymentCashOnDelivery, order.PaymentMethod)
	s.Equal(models.DeliveryNormal, order.DeliveryType)
	s.Equal("BDT", order.Currency)
	s.InDelta(500, order.Subtotal, 0.001)
	s.InDelta(80, order.ShippingCost, 0.001)
	s.InDelta(580, order.TotalCost, 0.001)

	s.Require().Len(order.Items, 1)
	s.Equal(p.ID, order.Items[0].ProductID)
	s.Equal("Padma Nadir Majhi", order.Items[0].Title)
	s.InDelta(500, order.Items[0].UnitPrice, 0.001)

	got := reloadProduct(s.T(), s.db, p)
	s.Equal(2, got.Stock)
	s.Equal(1, got.Sold)

	s.notify.Wait()
	s.Equal(1, s.sender.count(NoticeOrderPlaced))
}

func (s *OrderServiceSuite) TestCreateOrderMergesRepeatedProducts() {
	p := s.book("Gitanjali", 200, 5)

	order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1), line(p, 2)))
	s.Require().NoError(err)
	s.Require().Len(order.Items, 1)
	s.Equal(3, order.Items[0].Quantity)
	s.InDelta(600, order.Subtotal, 0.001)
	s.Equal(2, reloadProduct(s.T(), s.db, p).Stock)
}

func (s *OrderServiceSuite) TestCreateOrderValidation() {
	p := s.book("Debdas", 150, 5)
	negative := -10.0

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"no products", func(in *CreateOrderInput) { in.Products = nil }},
		{"no name", func(in *CreateOrderInput) { in.CustomerName = "  " }},
		{"no phone", func(in *CreateOrderInput) { in.CustomerPhone = "" }},
		{"bad product id", func(in *CreateOrderInput) { in.Products = []LineRequest{{ProductID: "abc", Quantity: 1}} }},
		{"zero quantity", func(in *CreateOrderInput) { in.Products = []LineRequest{line(p, 0)} }},
		{"unknown delivery", func(in *CreateOrderInput) { in.DeliveryType = "drone" }},
		{"unknown payment", func(in *CreateOrderInput) { in.PaymentMethod = "barter" }},
		{"negative shipping", func(in *CreateOrderInput) { in.ShippingCost = &negative }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			in := checkout(line(p, 1))
			tt.mutate(&in)
			_, _, err := s.svc.CreateOrder(s.ctx, in)
			s.ErrorIs(err, ErrValidation)
		})
	}

	s.Zero(countOrders(s.T(), s.db))
	s.Equal(5, reloadProduct(s.T(), s.db, p).Stock)
}

func (s *OrderServiceSuite) TestCreateOrderProductChecks() {
	inactive := seedProduct(s.T(), s.db, models.Product{Title: "Out of print", Price: 100, Stock: 4})
	scarce := s.book("Last copies", 100, 2)

	_, _, err := s.svc.CreateOrder(s.ctx, checkout(LineRequest{ProductID: uuid.NewString(), Quantity: 1}))
	s.ErrorIs(err, ErrNotFound)

	_, _, err = s.svc.CreateOrder(s.ctx, checkout(line(inactive, 1)))
	s.ErrorIs(err, ErrInactiveResource)

	_, _, err = s.svc.CreateOrder(s.ctx, checkout(line(scarce, 3)))
	s.ErrorIs(err, ErrInsufficientStock)

	s.Zero(countOrders(s.T(), s.db))
	s.Equal(2, reloadProduct(s.T(), s.db, scarce).Stock)
}

func (s *OrderServiceSuite) TestFailedLineLeavesEarlierLinesUntouched() {
	first := s.book("First", 100, 10)
	second := s.book("Second", 100, 1)

	_, _, err := s.svc.CreateOrder(s.ctx, checkout(line(first, 2), line(second, 2)))
	s.ErrorIs(err, ErrInsufficientStock)

	s.Equal(10, reloadProduct(s.T(), s.db, first).Stock)
	s.Equal(1, reloadProduct(s.T(), s.db, second).Stock)
	s.Zero(countOrders(s.T(), s.db))
}

func (s *OrderServiceSuite) TestCouponDiscount() {
	p := s.book("Shonar Tori", 400, 5)
	seedCoupon(s.T(), s.db, models.Coupon{
		Code:          "BOI10",
		DiscountType:  models.CouponPercentage,
		DiscountValue: 10,
		IsActive:      true,
	})

	in := checkout(line(p, 1))
	in.CouponCode = " BOI10 "
	order, _, err := s.svc.CreateOrder(s.ctx, in)
	s.Require().NoError(err)

	s.Equal("BOI10", order.CouponCode)
	s.Equal(models.CouponPercentage, order.CouponDiscountType)
	s.InDelta(40, order.CouponDiscount, 0.001)
	s.InDelta(440, order.TotalCost, 0.001)
}

func (s *OrderServiceSuite) TestCouponRejections() {
	p := s.book("Chander Pahar", 300, 5)
	now := s.svc.now()
	seedCoupon(s.T(), s.db, models.Coupon{
		Code:          "OLD",
		DiscountType:  models.CouponFixedAmount,
		DiscountValue: 50,
		ValidUntil:    now.Add(-time.Hour),
		IsActive:      true,
	})
	seedCoupon(s.T(), s.db, models.Coupon{
		Code:          "OFF",
		DiscountType:  models.CouponFixedAmount,
		DiscountValue: 50,
	})

	in := checkout(line(p, 1))
	in.CouponCode = "NOPE"
	_, _, err := s.svc.CreateOrder(s.ctx, in)
	s.ErrorIs(err, ErrInvalidCoupon)
	s.ErrorIs(err, ErrNotFound)

	for _, code := range []string{"OLD", "OFF"} {
		in.CouponCode = code
		_, _, err = s.svc.CreateOrder(s.ctx, in)
		s.ErrorIs(err, ErrInvalidCoupon, code)
		s.NotErrorIs(err, ErrNotFound, code)
	}

	s.Zero(countOrders(s.T(), s.db))
	s.Equal(5, reloadProduct(s.T(), s.db, p).Stock)
}

func (s *OrderServiceSuite) TestShipping() {
	free := seedProduct(s.T(), s.db, models.Product{Title: "Free", Price: 100, Stock: 10, IsActive: true, FreeShipping: true})

	order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(free, 1)))
	s.Require().NoError(err)
	s.InDelta(0, order.ShippingCost, 0.001)

	in := checkout(line(free, 1))
	in.DeliveryType = models.DeliveryOnDemand
	order, _, err = s.svc.CreateOrder(s.ctx, in)
	s.Require().NoError(err)
	s.InDelta(150, order.ShippingCost, 0.001)

	override := 59.2
	in = checkout(line(free, 1))
	in.ShippingCost = &override
	order, _, err = s.svc.CreateOrder(s.ctx, in)
	s.Require().NoError(err)
	s.InDelta(60, order.ShippingCost, 0.001)
	s.InDelta(160, order.TotalCost, 0.001)
}

func (s *OrderServiceSuite) TestOrderNumbersAreSequentialPerMonth() {
	p := s.book("Sequence", 10, 20)

	for i, want := range []string{"25030001", "25030002", "25030003", "25030004", "25030005"} {
		order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
		s.Require().NoError(err, "order %d", i)
		s.Equal(want, order.OrderNumber)
	}

	s.svc.now = fixedClock(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	s.Equal("25040001", order.OrderNumber)
}

func (s *OrderServiceSuite) TestIdempotentCheckout() {
	p := s.book("Once", 100, 5)

	in := checkout(line(p, 2))
	in.IdempotencyKey = "cart-42"
	first, created, err := s.svc.CreateOrder(s.ctx, in)
	s.Require().NoError(err)
	s.True(created)

	second, created, err := s.svc.CreateOrder(s.ctx, in)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)
	s.Equal(first.OrderNumber, second.OrderNumber)

	s.Equal(int64(1), countOrders(s.T(), s.db))
	s.Equal(3, reloadProduct(s.T(), s.db, p).Stock)

	s.notify.Wait()
	s.Equal(1, s.sender.count(NoticeOrderPlaced))
}

func (s *OrderServiceSuite) TestConcurrentCheckoutNeverOversells() {
	p := s.book("Bestseller", 250, 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			kind := KindOf(err)
			s.True(kind == KindInsufficientStock || kind == KindConflict, "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	s.Equal(5, succeeded)
	got := reloadProduct(s.T(), s.db, p)
	s.Equal(0, got.Stock)
	s.Equal(5, got.Sold)
	s.Equal(int64(5), countOrders(s.T(), s.db))
}

func (s *OrderServiceSuite) TestStatusUpdates() {
	p := s.book("Fulfil", 100, 5)
	order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)

	for _, target := range []models.OrderStatus{models.OrderConfirmed, models.OrderProcessing, models.OrderShipped} {
		updated, err := s.svc.UpdateStatus(s.ctx, order.ID, target)
		s.Require().NoError(err)
		s.Equal(target, updated.OrderStatus)
	}

	_, err = s.svc.UpdateStatus(s.ctx, order.ID, models.OrderPending)
	s.ErrorIs(err, ErrInvalidTransition)

	_, err = s.svc.UpdateStatus(s.ctx, order.ID, models.OrderCanceled)
	s.ErrorIs(err, ErrInvalidTransition)

	_, err = s.svc.UpdateStatus(s.ctx, uuid.New(), models.OrderConfirmed)
	s.ErrorIs(err, ErrNotFound)
}

func (s *OrderServiceSuite) TestCancelRestocks() {
	p := s.book("Refund me", 100, 5)
	order, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 3)))
	s.Require().NoError(err)
	s.Equal(2, reloadProduct(s.T(), s.db, p).Stock)

	canceled, err := s.svc.UpdateStatus(s.ctx, order.ID, models.OrderCanceled)
	s.Require().NoError(err)
	s.Equal(models.OrderCanceled, canceled.OrderStatus)
	s.NotNil(canceled.CanceledAt)

	got := reloadProduct(s.T(), s.db, p)
	s.Equal(5, got.Stock)
	s.Equal(0, got.Sold)

	_, err = s.svc.CancelOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrInvalidTransition)
	s.Equal(5, reloadProduct(s.T(), s.db, p).Stock)
}

func (s *OrderServiceSuite) TestDeleteReleasesOpenOrders() {
	p := s.book("Delete me", 100, 5)
	open, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 2)))
	s.Require().NoError(err)
	done, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	for _, target := range []models.OrderStatus{models.OrderConfirmed, models.OrderProcessing, models.OrderShipped, models.OrderDelivered} {
		_, err := s.svc.UpdateStatus(s.ctx, done.ID, target)
		s.Require().NoError(err)
	}
	s.Equal(2, reloadProduct(s.T(), s.db, p).Stock)

	s.Require().NoError(s.svc.DeleteOrder(s.ctx, open.ID))
	s.Equal(4, reloadProduct(s.T(), s.db, p).Stock)

	s.Require().NoError(s.svc.DeleteOrder(s.ctx, done.ID))
	s.Equal(4, reloadProduct(s.T(), s.db, p).Stock)

	s.Zero(countOrders(s.T(), s.db))
	var items int64
	s.Require().NoError(s.db.Model(&models.OrderItem{}).Count(&items).Error)
	s.Zero(items)

	s.ErrorIs(s.svc.DeleteOrder(s.ctx, open.ID), ErrNotFound)
}

func (s *OrderServiceSuite) TestLookupsAndListing() {
	p := s.book("Listed", 100, 10)
	first, _, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	_, _, err = s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	_, err = s.svc.UpdateStatus(s.ctx, first.ID, models.OrderConfirmed)
	s.Require().NoError(err)

	byNumber, err := s.svc.GetOrderByNumber(s.ctx, first.OrderNumber)
	s.Require().NoError(err)
	s.Equal(first.ID, byNumber.ID)

	_, err = s.svc.GetOrderByNumber(s.ctx, "99999999")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.svc.GetOrder(s.ctx, uuid.New())
	s.ErrorIs(err, ErrNotFound)

	all, total, err := s.svc.ListOrders(s.ctx, OrderFilter{Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(all, 2)

	confirmed, total, err := s.svc.ListOrders(s.ctx, OrderFilter{OrderStatus: models.OrderConfirmed, Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(confirmed, 1)
	s.Equal(first.ID, confirmed[0].ID)
	s.NotEmpty(confirmed[0].Items)

	page, total, err := s.svc.ListOrders(s.ctx, OrderFilter{PaymentStatus: models.PaymentPending, Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(page, 1)
}

func (s *OrderServiceSuite) TestNotificationFailureDoesNotFailCheckout() {
	s.sender.err = context.DeadlineExceeded
	p := s.book("Quiet", 100, 1)

	_, created, err := s.svc.CreateOrder(s.ctx, checkout(line(p, 1)))
	s.Require().NoError(err)
	s.True(created)
}
