package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/models"
)

var errNoGateway = errors.New("payment gateway not configured")

// Reason codes carried to the frontend on failed or errored callbacks.
const (
	ReasonMissingTransaction  = "missing_transaction"
	ReasonOrderNotFound       = "order_not_found"
	ReasonAmountMismatch      = "amount_mismatch"
	ReasonTransactionMismatch = "transaction_mismatch"
	ReasonValidationError     = "validation_error"
	ReasonOrderNotPayable     = "order_not_payable"
	ReasonPaymentFailed       = "payment_failed"
	ReasonPaymentCanceled     = "payment_canceled"
	ReasonSessionExpired      = "session_expired"
	ReasonInternal            = "internal_error"
)

// PaymentService opens gateway sessions and reconciles gateway callbacks with orders.
type PaymentService struct {
	db       *gorm.DB
	gateway  PaymentGateway
	locker   Locker
	notifier *Dispatcher
	log      zerolog.Logger
	now      func() time.Time

	sweepLockWait time.Duration
}

// NewPaymentService wires the workflow. A nil locker falls back to an in-process one.
func NewPaymentService(db *gorm.DB, gateway PaymentGateway, locker Locker, notifier *Dispatcher, log zerolog.Logger) *PaymentService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &PaymentService{
		db:       db,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		log:      log.With().Str("component", "payments").Logger(),
		now:      time.Now,

		sweepLockWait: 200 * time.Millisecond,
	}
}

// PaymentInitiation is what the client needs to send the buyer to the hosted page.
type PaymentInitiation struct {
	PaymentURL    string `json:"paymentUrl"`
	SessionKey    string `json:"sessionkey"`
	TransactionID string `json:"transactionId"`
}

// InitiatePayment opens a gateway session for the order. The transaction id is
// stored before the gateway is called so any later callback can find the order.
func (s *PaymentService) InitiatePayment(ctx context.Context, orderID uuid.UUID) (*PaymentInitiation, error) {
	order, err := s.loadOrder(ctx, "id = ?", orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == models.PaymentPaid {
		return nil, newError(KindValidation, "order %s is already paid", order.OrderNumber)
	}
	if !payable(order.OrderStatus) {
		return nil, newError(KindInvalidTransition, "cannot start payment for a %s order", order.OrderStatus)
	}
	if !order.PaymentMethod.Online() {
		return nil, newError(KindValidation, "order %s is not paid online", order.OrderNumber)
	}
	if s.gateway == nil {
		return nil, wrapError(KindPaymentInitiation, errNoGateway, "online payment is unavailable")
	}

	tranID, err := s.assignTransactionID(ctx, order)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.InitiateSession(ctx, order, tranID)
	if err != nil {
		s.log.Error().Err(err).
			Str("order_number", order.OrderNumber).
			Str("tran_id", tranID).
			Msg("payment session initiation failed")

		if _, terr := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventSessionFailed},
			map[string]any{"payment_failure_reason": truncate(err.Error(), 500)}); terr != nil {
			s.log.Error().Err(terr).Str("order_number", order.OrderNumber).Msg("could not record initiation failure")
		}
		if KindOf(err) == KindPaymentInitiation {
			return nil, err
		}
		return nil, wrapError(KindPaymentInitiation, err, "could not open payment session")
	}

	now := s.now()
	if _, err := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventSessionOpened}, map[string]any{
		"sslcommerz_session_key": session.SessionKey,
		"payment_initiated_at":   &now,
		"payment_failure_reason": "",
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_number", order.OrderNumber).
		Str("tran_id", tranID).
		Msg("payment session opened")

	return &PaymentInitiation{
		PaymentURL:    session.GatewayURL,
		SessionKey:    session.SessionKey,
		TransactionID: tranID,
	}, nil
}

func (s *PaymentService) assignTransactionID(ctx context.Context, order *models.Order) (string, error) {
	if order.SSLCommerzTransactionID != nil && *order.SSLCommerzTransactionID != "" {
		return *order.SSLCommerzTransactionID, nil
	}

	tranID := fmt.Sprintf("%s-%d", order.OrderNumber, s.now().UnixMilli())
	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND sslcommerz_transaction_id IS NULL", order.ID).
		Update("sslcommerz_transaction_id", tranID)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		// Another initiation stored one first.
		var stored models.Order
		if err := s.db.WithContext(ctx).Select("sslcommerz_transaction_id").First(&stored, "id = ?", order.ID).Error; err != nil {
			return "", err
		}
		if stored.SSLCommerzTransactionID == nil {
			return "", newError(KindConflict, "could not assign a transaction id")
		}
		tranID = *stored.SSLCommerzTransactionID
	}
	order.SSLCommerzTransactionID = &tranID
	return tranID, nil
}

// CallbackPayload is the typed view of a gateway callback. Fields the workflow
// does not act on are kept in Metadata for audit.
type CallbackPayload struct {
	TranID   string            `json:"tran_id"`
	ValID    string            `json:"val_id"`
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ParseCallback splits raw gateway fields into the typed payload and the metadata bag.
func ParseCallback(fields map[string]string) CallbackPayload {
	p := CallbackPayload{Metadata: make(map[string]string)}
	for k, v := range fields {
		v = strings.TrimSpace(v)
		switch k {
		case "tran_id":
			p.TranID = v
		case "val_id":
			p.ValID = v
		case "amount":
			p.Amount = v
		case "currency":
			p.Currency = v
		case "status":
			p.Status = v
		case "error":
			p.Error = v
		case "store_passwd", "verify_sign", "verify_key", "verify_sign_sha2":
		default:
			p.Metadata[k] = v
		}
	}
	return p
}

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeError   OutcomeKind = "error"
)

// Outcome tells the transport where to send the buyer.
type Outcome struct {
	Kind        OutcomeKind
	OrderID     string
	OrderNumber string
	Reason      string
}

func successOutcome(o *models.Order) Outcome {
	return Outcome{Kind: OutcomeSuccess, OrderID: o.ID.String(), OrderNumber: o.OrderNumber}
}

func failureOutcome(o *models.Order, reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, OrderID: o.ID.String(), OrderNumber: o.OrderNumber, Reason: reason}
}

func errorOutcome(reason string) Outcome {
	return Outcome{Kind: OutcomeError, Reason: reason}
}

// HandleSuccess reconciles a success callback. Repeated calls for a paid order are no-ops.
func (s *PaymentService) HandleSuccess(ctx context.Context, p CallbackPayload) Outcome {
	return s.withCallbackLock(ctx, p, func(order *models.Order) Outcome {
		return s.settle(ctx, order, p)
	})
}

// HandleAbort reconciles a fail or cancel callback. A paid order is never downgraded.
func (s *PaymentService) HandleAbort(ctx context.Context, p CallbackPayload, reason string) Outcome {
	return s.withCallbackLock(ctx, p, func(order *models.Order) Outcome {
		if reason == "" {
			reason = ReasonPaymentFailed
		}
		detail := reason
		if p.Error != "" {
			detail = reason + ": " + p.Error
		}

		if _, err := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventPaymentAborted}, map[string]any{
			"payment_failure_reason": truncate(detail, 500),
			"gateway_response":       gatewayRecord(p, nil),
		}); err != nil {
			if errors.Is(err, ErrAlreadyPaid) {
				return successOutcome(order)
			}
			s.log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("could not record aborted payment")
		}

		s.log.Warn().
			Str("order_number", order.OrderNumber).
			Str("tran_id", p.TranID).
			Str("reason", reason).
			Msg("payment aborted")
		return failureOutcome(order, reason)
	})
}

// HandleNotification reconciles a server-to-server notification by its reported status.
func (s *PaymentService) HandleNotification(ctx context.Context, p CallbackPayload) Outcome {
	switch strings.ToUpper(p.Status) {
	case "VALID", "VALIDATED":
		return s.HandleSuccess(ctx, p)
	case "CANCELLED":
		return s.HandleAbort(ctx, p, ReasonPaymentCanceled)
	default:
		return s.HandleAbort(ctx, p, ReasonPaymentFailed)
	}
}

func (s *PaymentService) withCallbackLock(ctx context.Context, p CallbackPayload, fn func(*models.Order) Outcome) Outcome {
	if p.TranID == "" {
		return errorOutcome(ReasonMissingTransaction)
	}

	unlock, err := s.locker.Lock(ctx, p.TranID)
	if err != nil {
		s.log.Error().Err(err).Str("tran_id", p.TranID).Msg("could not lock transaction")
		return errorOutcome(ReasonInternal)
	}
	defer unlock()

	order, err := s.loadOrder(ctx, "sslcommerz_transaction_id = ?", p.TranID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn().Str("tran_id", p.TranID).Msg("callback for unknown transaction")
			return errorOutcome(ReasonOrderNotFound)
		}
		s.log.Error().Err(err).Str("tran_id", p.TranID).Msg("could not load order for callback")
		return errorOutcome(ReasonInternal)
	}

	if order.PaymentStatus == models.PaymentPaid {
		s.log.Info().Str("order_number", order.OrderNumber).Str("tran_id", p.TranID).Msg("duplicate callback for paid order")
		return successOutcome(order)
	}
	return fn(order)
}

func (s *PaymentService) settle(ctx context.Context, order *models.Order, p CallbackPayload) Outcome {
	total := WholeUnits(decimal.NewFromFloat(order.TotalCost))

	reported, err := decimal.NewFromString(p.Amount)
	if err != nil || !WholeUnits(reported).Equal(total) {
		return s.reject(ctx, order, p, nil, ReasonAmountMismatch,
			fmt.Sprintf("callback amount %q does not match order total %s", p.Amount, total))
	}

	if s.gateway == nil {
		return s.reject(ctx, order, p, nil, ReasonValidationError, errNoGateway.Error())
	}
	v, err := s.gateway.ValidateTransaction(ctx, p.ValID)
	if err != nil {
		s.log.Error().Err(err).Str("order_number", order.OrderNumber).Str("val_id", p.ValID).Msg("payment validation failed")
		return s.reject(ctx, order, p, nil, ReasonValidationError, err.Error())
	}

	if !v.Valid() {
		reason := strings.ToLower(v.Status)
		if reason == "" {
			reason = ReasonPaymentFailed
		}
		return s.reject(ctx, order, p, v.Raw, reason, "gateway status "+v.Status)
	}
	if v.TransactionID != "" && v.TransactionID != p.TranID {
		return s.reject(ctx, order, p, v.Raw, ReasonTransactionMismatch,
			fmt.Sprintf("validated transaction %q does not match %q", v.TransactionID, p.TranID))
	}
	if !v.Amount.IsZero() && !WholeUnits(v.Amount).Equal(total) {
		return s.reject(ctx, order, p, v.Raw, ReasonAmountMismatch,
			fmt.Sprintf("validated amount %s does not match order total %s", v.Amount, total))
	}

	return s.confirm(ctx, order, p, v)
}

func (s *PaymentService) confirm(ctx context.Context, order *models.Order, p CallbackPayload, v *Validation) Outcome {
	record := gatewayRecord(p, v.Raw)

	if _, err := Transition(StateOf(order), Event{Kind: EventPaymentValidated}); err != nil {
		if errors.Is(err, ErrAlreadyPaid) {
			return successOutcome(order)
		}
		// Money was taken for an order that can no longer be fulfilled.
		s.log.Error().Err(err).
			Str("order_number", order.OrderNumber).
			Str("order_status", string(order.OrderStatus)).
			Str("tran_id", p.TranID).
			Msg("valid payment received for an order that is not payable")
		if uerr := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
			"payment_failure_reason": ReasonOrderNotPayable,
			"gateway_response":       record,
		}).Error; uerr != nil {
			s.log.Error().Err(uerr).Str("order_number", order.OrderNumber).Msg("could not record payment")
		}
		return failureOutcome(order, ReasonOrderNotPayable)
	}

	paidAt := s.now()
	updates := map[string]any{
		"paid_at":                &paidAt,
		"gateway_response":       record,
		"payment_failure_reason": "",
	}
	if _, err := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventPaymentValidated}, updates); err != nil {
		// The row moved under us, e.g. a session expiry. Retry from what is stored now.
		current, lerr := s.loadOrder(ctx, "id = ?", order.ID)
		if lerr != nil {
			s.log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("could not mark order paid")
			return errorOutcome(ReasonInternal)
		}
		if current.PaymentStatus == models.PaymentPaid {
			return successOutcome(current)
		}
		if _, rerr := applyTransition(s.db.WithContext(ctx), current, Event{Kind: EventPaymentValidated}, updates); rerr != nil {
			s.log.Error().Err(rerr).
				Str("order_number", order.OrderNumber).
				Str("order_status", string(current.OrderStatus)).
				Str("payment_status", string(current.PaymentStatus)).
				Msg("could not mark order paid")
			return errorOutcome(ReasonInternal)
		}
	}

	paid, err := s.loadOrder(ctx, "id = ?", order.ID)
	if err != nil {
		s.log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("could not reload paid order")
		paid = order
	}

	s.log.Info().
		Str("order_number", paid.OrderNumber).
		Str("tran_id", p.TranID).
		Str("card_type", v.CardType).
		Str("bank_tran_id", v.BankTransactionID).
		Msg("payment confirmed")
	s.notifier.Dispatch(NoticePaymentConfirmed, *paid)

	return successOutcome(paid)
}

func (s *PaymentService) reject(ctx context.Context, order *models.Order, p CallbackPayload, raw []byte, reason, detail string) Outcome {
	s.log.Warn().
		Str("order_number", order.OrderNumber).
		Str("tran_id", p.TranID).
		Str("reason", reason).
		Str("detail", detail).
		Msg("payment rejected")

	if _, err := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventPaymentRejected}, map[string]any{
		"payment_failure_reason": truncate(reason+": "+detail, 500),
		"gateway_response":       gatewayRecord(p, raw),
	}); err != nil {
		if errors.Is(err, ErrAlreadyPaid) {
			return successOutcome(order)
		}
		s.log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("could not record rejected payment")
	}
	return failureOutcome(order, reason)
}

// ExpireStaleSessions fails payments that stayed in processing longer than ttl.
// Each order is expired under its callback lock; orders whose callback is in
// flight are left for the next sweep.
func (s *PaymentService) ExpireStaleSessions(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-ttl)

	var stale []models.Order
	if err := s.db.WithContext(ctx).
		Where("payment_status = ? AND payment_initiated_at < ?", models.PaymentProcessing, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		ok, err := s.expireSession(ctx, &stale[i], cutoff)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *PaymentService) expireSession(ctx context.Context, order *models.Order, cutoff time.Time) (bool, error) {
	if order.SSLCommerzTransactionID != nil && *order.SSLCommerzTransactionID != "" {
		lockCtx, cancel := context.WithTimeout(ctx, s.sweepLockWait)
		unlock, err := s.locker.Lock(lockCtx, *order.SSLCommerzTransactionID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.log.Debug().Err(err).Str("order_number", order.OrderNumber).Msg("callback in progress, skip session expiry")
			return false, nil
		}
		defer unlock()

		current, err := s.loadOrder(ctx, "id = ?", order.ID)
		if err != nil {
			return false, err
		}
		order = current
	}

	if order.PaymentStatus != models.PaymentProcessing ||
		order.PaymentInitiatedAt == nil || !order.PaymentInitiatedAt.Before(cutoff) {
		return false, nil
	}

	if _, err := applyTransition(s.db.WithContext(ctx), order, Event{Kind: EventSessionExpired},
		map[string]any{"payment_failure_reason": ReasonSessionExpired}); err != nil {
		s.log.Debug().Err(err).Str("order_number", order.OrderNumber).Msg("skip session expiry")
		return false, nil
	}
	s.log.Info().Str("order_number", order.OrderNumber).Msg("payment session expired")
	return true, nil
}

func (s *PaymentService) loadOrder(ctx context.Context, query string, args ...any) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").Where(query, args...).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// gatewayRecord is the audit blob stored on the order: the callback as received
// and, when there was one, the gateway's validation response.
func gatewayRecord(p CallbackPayload, validation []byte) []byte {
	record := map[string]any{"callback": p}
	if len(validation) > 0 && json.Valid(validation) {
		record["validation"] = json.RawMessage(validation)
	}
	b, err := json.Marshal(record)
	if err != nil {
		return []byte("{}")
	}
	return b
}
