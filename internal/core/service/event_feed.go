package service

import (
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/core/domain"
)

// EventFeed is a buffered feed of applied order transitions, consumed by
// the audit-trail workers in cmd/server. Emitting never blocks: the
// reservation path must not stall on a slow consumer, so overflow drops
// the event with a warning.
type EventFeed struct {
	ch chan domain.OrderEvent
}

func NewEventFeed(size int) *EventFeed {
	return &EventFeed{ch: make(chan domain.OrderEvent, size)}
}

func (f *EventFeed) Emit(ev domain.OrderEvent) {
	select {
	case f.ch <- ev:
	default:
		log.WithFields(log.Fields{
			"order": ev.OrderID,
			"to":    ev.ToStatus,
		}).Warn("event feed full, dropping audit event")
	}
}

func (f *EventFeed) Events() <-chan domain.OrderEvent {
	return f.ch
}

func (f *EventFeed) Close() {
	close(f.ch)
}
