package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PaymentSweeper periodically expires payment sessions the buyer abandoned.
type PaymentSweeper struct {
	payments *PaymentService
	ttl      time.Duration
	interval time.Duration
	log      zerolog.Logger
}

func NewPaymentSweeper(payments *PaymentService, ttl, interval time.Duration, log zerolog.Logger) *PaymentSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PaymentSweeper{
		payments: payments,
		ttl:      ttl,
		interval: interval,
		log:      log.With().Str("component", "payment_sweeper").Logger(),
	}
}

// Enabled reports whether a session TTL is configured.
func (w *PaymentSweeper) Enabled() bool {
	return w != nil && w.ttl > 0
}

// Run sweeps every interval until ctx is done.
func (w *PaymentSweeper) Run(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	w.log.Info().Dur("ttl", w.ttl).Dur("interval", w.interval).Msg("payment sweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("payment sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *PaymentSweeper) sweep(ctx context.Context) {
	n, err := w.payments.ExpireStaleSessions(ctx, w.ttl)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("payment sweep failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().Int("expired", n).Msg("expired stale payment sessions")
	}
}
