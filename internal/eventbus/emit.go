package eventbus

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/brokkr-io/brokkr/internal/store"
)

// Emitter matches committed events against enabled webhook subscriptions
// and enqueues delivery rows, per spec.md §4.5 steps 1-2. Callers invoke
// Emit inside the same transaction as the mutation that produced the
// event, satisfying the "emission and delivery-enqueue share one
// transaction" ordering guarantee of spec.md §5.
type Emitter struct {
	store  *store.Store
	stream *LiveStream
}

// NewEmitter builds an Emitter. stream may be nil if no live-fanout is
// wired (e.g. in tests).
func NewEmitter(st *store.Store, stream *LiveStream) *Emitter {
	return &Emitter{store: st, stream: stream}
}

// Emit matches evt against every enabled subscription's event_types and
// enqueues a pending webhook_delivery row for each match, within tx. The
// caller must call PublishCommitted after tx commits successfully — the
// live stream is best-effort and must never surface an event whose
// transaction rolled back.
func (e *Emitter) Emit(ctx context.Context, tx pgx.Tx, evt Event) error {
	subs, err := e.store.ListEnabledWebhookSubscriptions(ctx, tx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !Matches(sub.EventTypes, evt.Type) {
			continue
		}
		if _, err := e.store.EnqueueWebhookDelivery(ctx, tx, sub.ID, evt.JSON(), sub.TargetLabels); err != nil {
			return err
		}
	}
	return nil
}

// PublishCommitted fans evt out to the live stream. Call only after the
// enclosing transaction has committed.
func (e *Emitter) PublishCommitted(evt Event) {
	if e.stream != nil {
		e.stream.Publish(evt)
	}
}
