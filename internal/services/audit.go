package services

import (
	"context"
	"sync"
	"time"

	"evalhub/internal/models"

	"go.uber.org/zap"
)

// AuditStoreFunc persists one audit event.
type AuditStoreFunc func(ctx context.Context, ev models.AuditEvent) error

// AuditChannel decouples the pipeline from audit persistence: the pipeline
// emits events into a buffered channel and a single consumer goroutine
// persists them. Storage failures are logged and swallowed; they can never
// abort or slow down an assignment step.
type AuditChannel struct {
	log       *zap.Logger
	store     AuditStoreFunc
	ch        chan models.AuditEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewAuditChannel(log *zap.Logger, store AuditStoreFunc, buffer int) *AuditChannel {
	if buffer < 1 {
		buffer = 64
	}
	a := &AuditChannel{
		log:   log,
		store: store,
		ch:    make(chan models.AuditEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit enqueues an event without blocking. A full buffer drops the event
// with a warning; audit is best-effort by contract.
func (a *AuditChannel) Emit(ev models.AuditEvent) {
	select {
	case a.ch <- ev:
	default:
		a.log.Warn("Audit buffer full, dropping event",
			zap.String("activity", ev.Activity),
			zap.String("subject", ev.SubjectEmail),
		)
	}
}

func (a *AuditChannel) run() {
	defer close(a.done)
	for ev := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.store(ctx, ev); err != nil {
			a.log.Error("Failed to persist audit entry",
				zap.Error(err),
				zap.String("activity", ev.Activity),
				zap.String("subject", ev.SubjectEmail),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the consumer to drain the
// buffer.
func (a *AuditChannel) Close() {
	a.closeOnce.Do(func() { close(a.ch) })
	<-a.done
}
