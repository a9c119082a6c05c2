package services

import (
	"github.com/example/bookstore/internal/models"
)

// OrderState is the (orderStatus, paymentStatus) pair tracked on every order.
type OrderState struct {
	Order   models.OrderStatus
	Payment models.PaymentStatus
}

func StateOf(o *models.Order) OrderState {
	return OrderState{Order: o.OrderStatus, Payment: o.PaymentStatus}
}

// EventKind names something that happened to an order.
type EventKind string

const (
	// EventStatusChange is an explicit fulfilment update; Event.Target holds the new status.
	EventStatusChange EventKind = "status_change"
	// EventSessionOpened fires when a gateway session was created for the order.
	EventSessionOpened EventKind = "session_opened"
	// EventSessionFailed fires when the gateway refused to open a session.
	EventSessionFailed EventKind = "session_failed"
	// EventPaymentValidated fires when the gateway confirmed the payment.
	EventPaymentValidated EventKind = "payment_validated"
	// EventPaymentRejected fires on an amount mismatch, a failed validation or an invalid status.
	EventPaymentRejected EventKind = "payment_rejected"
	// EventPaymentAborted fires on a fail or cancel callback from the gateway.
	EventPaymentAborted EventKind = "payment_aborted"
	// EventSessionExpired fires when a session stayed in processing past its TTL.
	EventSessionExpired EventKind = "session_expired"
)

type Event struct {
	Kind   EventKind
	Target models.OrderStatus
}

// statusTransitions lists the allowed fulfilment moves.
var statusTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:       {models.OrderConfirmed, models.OrderCanceled},
	models.OrderConfirmed:     {models.OrderProcessing, models.OrderCanceled},
	models.OrderProcessing:    {models.OrderShipped, models.OrderCanceled},
	models.OrderShipped:       {models.OrderDelivered, models.OrderReturned},
	models.OrderDelivered:     {models.OrderReturned},
	models.OrderPaymentFailed: {models.OrderCanceled},
}

// CanChangeStatus reports whether from -> to is in the fulfilment table.
func CanChangeStatus(from, to models.OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// payable lists order statuses that may still accept a payment.
func payable(s models.OrderStatus) bool {
	return s == models.OrderPending || s == models.OrderPaymentFailed
}

// ErrAlreadyPaid is returned for payment events on an order that is already paid.
var ErrAlreadyPaid = newError(KindInvalidTransition, "order is already paid")

// Transition returns the state that follows cur after ev, or an error when the
// event is not allowed in cur. A paid order never moves back through a payment event.
func Transition(cur OrderState, ev Event) (OrderState, error) {
	if ev.Kind == EventStatusChange {
		if !ev.Target.Valid() || ev.Target == models.OrderPaymentFailed {
			return cur, newError(KindValidation, "unknown order status %q", ev.Target)
		}
		if !CanChangeStatus(cur.Order, ev.Target) {
			return cur, newError(KindInvalidTransition, "cannot change order status from %s to %s", cur.Order, ev.Target)
		}
		return OrderState{Order: ev.Target, Payment: cur.Payment}, nil
	}

	if cur.Payment == models.PaymentPaid {
		return cur, ErrAlreadyPaid
	}
	if cur.Payment == models.PaymentRefunded {
		return cur, newError(KindInvalidTransition, "order payment was refunded")
	}

	switch ev.Kind {
	case EventSessionOpened:
		if !payable(cur.Order) {
			return cur, newError(KindInvalidTransition, "cannot start payment for a %s order", cur.Order)
		}
		return OrderState{Order: models.OrderPending, Payment: models.PaymentProcessing}, nil

	case EventSessionFailed:
		return OrderState{Order: cur.Order, Payment: models.PaymentFailed}, nil

	case EventPaymentValidated:
		if !payable(cur.Order) {
			return cur, newError(KindInvalidTransition, "cannot accept payment for a %s order", cur.Order)
		}
		return OrderState{Order: models.OrderConfirmed, Payment: models.PaymentPaid}, nil

	case EventPaymentRejected:
		if !payable(cur.Order) {
			return OrderState{Order: cur.Order, Payment: models.PaymentFailed}, nil
		}
		return OrderState{Order: models.OrderPaymentFailed, Payment: models.PaymentFailed}, nil

	case EventPaymentAborted:
		if !payable(cur.Order) {
			return OrderState{Order: cur.Order, Payment: models.PaymentFailed}, nil
		}
		return OrderState{Order: models.OrderPending, Payment: models.PaymentFailed}, nil

	case EventSessionExpired:
		if cur.Payment != models.PaymentProcessing {
			return cur, newError(KindInvalidTransition, "no payment session in progress")
		}
		return OrderState{Order: cur.Order, Payment: models.PaymentFailed}, nil
	}

	return cur, newError(KindValidation, "unknown event %q", ev.Kind)
}
