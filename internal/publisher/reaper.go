package publisher

import (
	"context"
	"time"

	"github.com/baechuer/turn-bridge/internal/claims"
	"github.com/baechuer/turn-bridge/internal/logger"
	"github.com/baechuer/turn-bridge/internal/metrics"
	"github.com/baechuer/turn-bridge/internal/models"
)

const (
	reaperInterval = time.Second

	// How long a claim may sit untouched before the provider's
	// customer-service window is considered closed.
	claimExpiry = 5 * time.Minute
)

// Reaper periodically sweeps expired conversation claims and publishes
// synthetic session-close messages for them.
type Reaper struct {
	registry       *claims.Registry
	publisher      Publisher
	transportName  string
	whatsappNumber string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReaper(registry *claims.Registry, pub Publisher, transportName, whatsappNumber string) *Reaper {
	return &Reaper{
		registry:       registry,
		publisher:      pub,
		transportName:  transportName,
		whatsappNumber: whatsappNumber,
	}
}

// Start launches the sweep loop. Stop must be called before the AMQP
// connection closes.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for the in-flight tick to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Tick runs one sweep. Errors are logged and swallowed: claims that expired
// but could not be dequeued are retried next tick, and dequeued claims lost
// to a publish failure stay lost.
func (r *Reaper) Tick(ctx context.Context) {
	log := logger.Logger.With().Str("component", "reaper").Logger()

	addresses, err := r.registry.ScanExpired(ctx, time.Now().Add(-claimExpiry))
	if err != nil {
		log.Warn().Err(err).Msg("claim scan failed; skipping tick")
		return
	}
	if len(addresses) == 0 {
		return
	}

	for _, address := range addresses {
		msg := models.NewMessage(r.whatsappNumber, address, r.transportName)
		msg.SessionEvent = models.SessionClose
		msg.ToAddrType = models.AddressMSISDN
		msg.FromAddrType = models.AddressMSISDN

		if err := r.publisher.PublishMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("close publish failed")
			continue
		}
		metrics.RecordReapedClaims(1)
		log.Debug().Str("address", address).Msg("session close published")
	}
}
