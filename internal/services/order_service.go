package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/bookstore/internal/models"
)

// OrderService places orders and applies fulfilment changes.
type OrderService struct {
	db       *gorm.DB
	rates    ShippingRates
	currency string
	notifier *Dispatcher
	log      zerolog.Logger
	now      func() time.Time
}

type OrderServiceConfig struct {
	Rates    ShippingRates
	Currency string
}

func NewOrderService(db *gorm.DB, cfg OrderServiceConfig, notifier *Dispatcher, log zerolog.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "BDT"
	}
	return &OrderService{
		db:       db,
		rates:    cfg.Rates,
		currency: cfg.Currency,
		notifier: notifier,
		log:      log.With().Str("component", "orders").Logger(),
		now:      time.Now,
	}
}

// LineRequest is one requested product.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput is a checkout submission.
type CreateOrderInput struct {
	IdempotencyKey string
	UserID         *uuid.UUID

	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	StreetAddress string
	City          models.Location
	Zone          models.Location
	Area          models.Location
	Notes         string

	DeliveryType  models.DeliveryType
	PaymentMethod models.PaymentMethod
	Products      []LineRequest
	CouponCode    string
	// ShippingCost, when set, replaces the derived delivery charge.
	ShippingCost *float64
}

type orderLine struct {
	productID uuid.UUID
	quantity  int
}

// CreateOrder validates the checkout, reserves stock and persists the order in one
// transaction. The bool is false when an order with the same idempotency key
// already existed and was returned instead.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, bool, error) {
	lines, err := validateCheckout(&in)
	if err != nil {
		return nil, false, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		return nil, false, err
	}

	order := &models.Order{
		UserID:        in.UserID,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		CustomerEmail: in.CustomerEmail,
		StreetAddress: in.StreetAddress,
		City:          in.City,
		Zone:          in.Zone,
		Area:          in.Area,
		Notes:         in.Notes,
		DeliveryType:  in.DeliveryType,
		PaymentMethod: in.PaymentMethod,
		Currency:      s.currency,
		OrderStatus:   models.OrderPending,
		PaymentStatus: models.PaymentPending,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		order.IdempotencyKey = &key
	}

	subtotal := decimal.Zero
	anyFreeShipping := false
	for _, line := range lines {
		p := products[line.productID]
		priced := PriceLine(p, line.quantity)
		subtotal = subtotal.Add(priced.LineTotal)
		anyFreeShipping = anyFreeShipping || p.FreeShipping

		order.Items = append(order.Items, models.OrderItem{
			ProductID:    p.ID,
			Quantity:     line.quantity,
			Price:        p.Price,
			SalePrice:    p.SalePrice,
			UnitPrice:    priced.UnitPrice.InexactFloat64(),
			LineTotal:    priced.LineTotal.InexactFloat64(),
			Title:        p.Title,
			ISBN:         p.ISBN,
			Author:       p.Author,
			Format:       p.Format,
			FreeShipping: p.FreeShipping,
		})
	}

	discount := decimal.Zero
	if in.CouponCode != "" {
		coupon, err := s.loadCoupon(ctx, in.CouponCode)
		if err != nil {
			return nil, false, err
		}
		discount = CouponDiscount(subtotal, coupon.DiscountType, coupon.DiscountValue)
		order.CouponCode = coupon.Code
		order.CouponDiscountType = coupon.DiscountType
	}

	shipping := ShippingCost(in.DeliveryType, anyFreeShipping, s.rates)
	if in.ShippingCost != nil {
		shipping = decimal.NewFromFloat(*in.ShippingCost).Ceil()
	}

	totals := OrderTotals(subtotal, shipping, discount)
	order.Subtotal = totals.Subtotal.InexactFloat64()
	order.ShippingCost = totals.ShippingCost.InexactFloat64()
	order.CouponDiscount = totals.CouponDiscount.InexactFloat64()
	order.TotalCost = totals.TotalCost.InexactFloat64()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := reserveStock(tx, lines, products); err != nil {
			return err
		}
		number, err := nextOrderNumber(tx, s.now())
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}
		order.OrderNumber = number
		return tx.Create(order).Error
	})
	if err != nil {
		if KindOf(err) != "" {
			return nil, false, err
		}
		// A concurrent request with the same key may have won the insert.
		if in.IdempotencyKey != "" {
			if existing, lookupErr := s.findByIdempotencyKey(ctx, in.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		s.log.Error().Err(err).Msg("order transaction failed")
		return nil, false, wrapError(KindConflict, err, "could not place order, please retry")
	}

	created, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("order_id", created.ID.String()).
		Str("order_number", created.OrderNumber).
		Float64("total_cost", created.TotalCost).
		Msg("order placed")
	s.notifier.Dispatch(NoticeOrderPlaced, *created)

	return created, true, nil
}

// validateCheckout normalises the input and merges repeated products.
func validateCheckout(in *CreateOrderInput) ([]orderLine, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	in.CouponCode = strings.TrimSpace(in.CouponCode)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	if len(in.Products) == 0 {
		return nil, newError(KindValidation, "products must not be empty")
	}
	if in.CustomerName == "" || in.CustomerPhone == "" {
		return nil, newError(KindValidation, "customer name and phone are required")
	}
	if len(in.IdempotencyKey) > 255 {
		return nil, newError(KindValidation, "idempotency key is too long")
	}

	if in.DeliveryType == "" {
		in.DeliveryType = models.DeliveryNormal
	}
	if in.DeliveryType != models.DeliveryNormal && in.DeliveryType != models.DeliveryOnDemand {
		return nil, newError(KindValidation, "unknown delivery type %q", in.DeliveryType)
	}

	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentCashOnDelivery
	}
	if !in.PaymentMethod.Valid() {
		return nil, newError(KindValidation, "unknown payment method %q", in.PaymentMethod)
	}

	if in.ShippingCost != nil && *in.ShippingCost < 0 {
		return nil, newError(KindValidation, "shipping cost must not be negative")
	}

	index := make(map[uuid.UUID]int, len(in.Products))
	lines := make([]orderLine, 0, len(in.Products))
	for i, p := range in.Products {
		if strings.TrimSpace(p.ProductID) == "" {
			return nil, newError(KindValidation, "products[%d]: product is required", i)
		}
		id, err := uuid.Parse(strings.TrimSpace(p.ProductID))
		if err != nil {
			return nil, newError(KindValidation, "products[%d]: invalid product id", i)
		}
		if p.Quantity < 1 {
			return nil, newError(KindValidation, "products[%d]: quantity must be at least 1", i)
		}
		if at, ok := index[id]; ok {
			lines[at].quantity += p.Quantity
			continue
		}
		index[id] = len(lines)
		lines = append(lines, orderLine{productID: id, quantity: p.Quantity})
	}
	return lines, nil
}

func (s *OrderService) loadProducts(ctx context.Context, lines []orderLine) (map[uuid.UUID]*models.Product, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.productID)
	}

	var found []models.Product
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.Product, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	for _, l := range lines {
		p, ok := byID[l.productID]
		if !ok {
			return nil, newError(KindNotFound, "product %s not found", l.productID)
		}
		if !p.IsActive {
			return nil, newError(KindInactiveResource, "product %q is not available", p.Title)
		}
		if l.quantity > p.Stock {
			return nil, newError(KindInsufficientStock, "only %d of %q left in stock", p.Stock, p.Title)
		}
	}
	return byID, nil
}

func (s *OrderService) loadCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapError(KindInvalidCoupon, newError(KindNotFound, "coupon not found"), "coupon %q does not exist", code)
		}
		return nil, err
	}
	if !coupon.UsableAt(s.now()) {
		return nil, newError(KindInvalidCoupon, "coupon %q is not valid", code)
	}
	if coupon.DiscountType != models.CouponPercentage && coupon.DiscountType != models.CouponFixedAmount {
		return nil, newError(KindInvalidCoupon, "coupon %q has an unknown discount type", code)
	}
	return &coupon, nil
}

// reserveStock decrements stock with a guarded update per product. Products are
// locked in id order so concurrent orders cannot deadlock each other.
func reserveStock(tx *gorm.DB, lines []orderLine, products map[uuid.UUID]*models.Product) error {
	sorted := append([]orderLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].productID.String() < sorted[j].productID.String()
	})

	for _, l := range sorted {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND is_active = ? AND stock >= ?", l.productID, true, l.quantity).
			Updates(map[string]any{
				"stock": gorm.Expr("stock - ?", l.quantity),
				"sold":  gorm.Expr("sold + ?", l.quantity),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(KindConflict, "stock for %q changed while placing the order", products[l.productID].Title)
		}
	}
	return nil
}

// releaseStock returns an order's quantities to stock.
func releaseStock(tx *gorm.DB, items []models.OrderItem) error {
	for _, item := range items {
		if err := tx.Model(&models.Product{}).
			Where("id = ?", item.ProductID).
			Updates(map[string]any{
				"stock": gorm.Expr("stock + ?", item.Quantity),
				"sold":  gorm.Expr("CASE WHEN sold >= ? THEN sold - ? ELSE 0 END", item.Quantity, item.Quantity),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// nextOrderNumber issues the next YYMM#### number for the month of now.
func nextOrderNumber(tx *gorm.DB, now time.Time) (string, error) {
	period := now.Format("0601")

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period"}},
		DoUpdates: clause.Assignments(map[string]any{"counter": gorm.Expr("order_sequences.counter + 1")}),
	}).Create(&models.OrderSequence{Period: period, Counter: 1}).Error; err != nil {
		return "", err
	}

	var seq models.OrderSequence
	if err := tx.Where("period = ?", period).First(&seq).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", period, seq.Counter), nil
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").Where("idempotency_key = ?", key).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder loads an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber loads an order by its customer-facing number.
func (s *OrderService) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, "order_number = ?", number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	OrderStatus   models.OrderStatus
	PaymentStatus models.PaymentStatus
	Limit         int
	Offset        int
}

// ListOrders returns a page of orders, newest first, and the total match count.
func (s *OrderService) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if f.OrderStatus != "" {
		query = query.Where("order_status = ?", f.OrderStatus)
	}
	if f.PaymentStatus != "" {
		query = query.Where("payment_status = ?", f.PaymentStatus)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("created_at desc").
		Limit(f.Limit).Offset(f.Offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatus moves an order along the fulfilment table. Cancellation restocks.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, target models.OrderStatus) (*models.Order, error) {
	if target == models.OrderCanceled {
		return s.CancelOrder(ctx, id)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, "id = ?", id)
		if err != nil {
			return err
		}
		_, err = applyTransition(tx, order, Event{Kind: EventStatusChange, Target: target}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", id.String()).Str("order_status", string(target)).Msg("order status updated")
	return s.GetOrder(ctx, id)
}

// CancelOrder cancels the order and puts its quantities back in stock.
func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, "id = ?", id)
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := applyTransition(tx, order, Event{Kind: EventStatusChange, Target: models.OrderCanceled},
			map[string]any{"canceled_at": &now}); err != nil {
			return err
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		return releaseStock(tx, items)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", id.String()).Msg("order canceled and restocked")
	return s.GetOrder(ctx, id)
}

// DeleteOrder removes an order. Stock still held by an open order is released first.
func (s *OrderService) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, "id = ?", id)
		if err != nil {
			return err
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		if holdsStock(order.OrderStatus) {
			if err := releaseStock(tx, items); err != nil {
				return err
			}
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Order{}, "id = ?", order.ID).Error
	})
}

func holdsStock(s models.OrderStatus) bool {
	switch s {
	case models.OrderPending, models.OrderConfirmed, models.OrderProcessing, models.OrderPaymentFailed:
		return true
	}
	return false
}

// lockOrder reads the order FOR UPDATE. SQLite has no row locks and serializes
// writers instead.
func lockOrder(tx *gorm.DB, query string, args ...any) (*models.Order, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var order models.Order
	if err := q.Where(query, args...).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// applyTransition computes the next state and writes it only if the row still
// holds the state it was read with.
func applyTransition(tx *gorm.DB, order *models.Order, ev Event, extra map[string]any) (OrderState, error) {
	cur := StateOf(order)
	next, err := Transition(cur, ev)
	if err != nil {
		return cur, err
	}

	updates := map[string]any{
		"order_status":   next.Order,
		"payment_status": next.Payment,
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND order_status = ? AND payment_status = ?", order.ID, cur.Order, cur.Payment).
		Updates(updates)
	if res.Error != nil {
		return cur, res.Error
	}
	if res.RowsAffected == 0 {
		return cur, newError(KindConflict, "order %s was modified concurrently", order.OrderNumber)
	}

	order.OrderStatus = next.Order
	order.PaymentStatus = next.Payment
	return next, nil
}
