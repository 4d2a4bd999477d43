// Package events carries lifecycle side effects from the engine to the
// notification sinks.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lms/internal/logging"
	"lms/internal/models"
)

type Kind string

const (
	KindReservationCreated   Kind = "reservation_created"
	KindReservationFulfilled Kind = "reservation_fulfilled"
	KindOverdueFine          Kind = "overdue_fine"
	KindOverdueAccrued       Kind = "overdue_accrued"
	KindFineImposed          Kind = "fine_imposed"
)

// Event is one user-facing message produced by a lifecycle operation.
type Event struct {
	Kind       Kind
	UserID     uuid.UUID
	Title      string
	Message    string
	Type       models.NotificationType
	OccurredAt time.Time
}

// Sink receives events. Delivery guarantees belong to the sink.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Dispatcher fans events out to every sink. Sink failures are logged and
// never returned to the caller.
type Dispatcher struct {
	sinks []Sink
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Dispatch delivers events in order. It returns the number of failed deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, evs []Event) int {
	if d == nil {
		return 0
	}
	failed := 0
	for _, e := range evs {
		for _, s := range d.sinks {
			if err := s.Deliver(ctx, e); err != nil {
				failed++
				logging.FromContext(ctx).Error("event delivery failed",
					"kind", e.Kind,
					"user_id", e.UserID,
					"sink", sinkName(s),
					"err", err,
				)
			}
		}
	}
	return failed
}

func sinkName(s Sink) string {
	switch s.(type) {
	case *StoreSink:
		return "store"
	case *RedisSink:
		return "redis"
	default:
		return "custom"
	}
}
