package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/bookstore/internal/models"
)

// Notice distinguishes the moments a customer or admin is told about an order.
type Notice string

const (
	NoticeOrderPlaced      Notice = "order_placed"
	NoticePaymentConfirmed Notice = "payment_confirmed"
)

// Sender delivers an order notice over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, notice Notice, order models.Order) error
}

// Dispatcher fans notices out to every sender in the background. Send failures
// are logged and never reach the caller.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(log zerolog.Logger, senders ...Sender) *Dispatcher {
	active := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Dispatcher{senders: active, timeout: 30 * time.Second, log: log}
}

// Dispatch copies the order and delivers it asynchronously.
func (d *Dispatcher) Dispatch(notice Notice, order models.Order) {
	if d == nil {
		return
	}
	for _, s := range d.senders {
		d.wg.Add(1)
		go func(s Sender) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := s.Send(ctx, notice, order); err != nil {
				d.log.Warn().Err(err).
					Str("channel", s.Name()).
					Str("notice", string(notice)).
					Str("order_number", order.OrderNumber).
					Msg("notification failed")
				return
			}
			d.log.Debug().
				Str("channel", s.Name()).
				Str("notice", string(notice)).
				Str("order_number", order.OrderNumber).
				Msg("notification sent")
		}(s)
	}
}

// Wait blocks until every in-flight notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
