// Package progress fans sync stage events out to the audit sink and live subscribers.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/gmb-sync/internal/logging"
	"github.com/gmb-sync/internal/models"
)

// Reporter receives stage events. Report never fails; delivery problems are logged.
type Reporter interface {
	Report(ctx context.Context, event *models.SyncEvent)
}

// Sink stores events durably
type Sink interface {
	Insert(ctx context.Context, events ...*models.SyncEvent) error
}

// Broadcaster pushes events to live subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, event *models.SyncEvent) error
}

// Tracker is the Reporter used in production: every event goes to the sink and the broadcaster
type Tracker struct {
	sink        Sink
	broadcaster Broadcaster
	timeout     time.Duration
	now         func() time.Time
}

// NewTracker creates a tracker. Either target may be nil.
func NewTracker(sink Sink, broadcaster Broadcaster) *Tracker {
	return &Tracker{
		sink:        sink,
		broadcaster: broadcaster,
		timeout:     5 * time.Second,
		now:         time.Now,
	}
}

// Report delivers event to every target
func (t *Tracker) Report(ctx context.Context, event *models.SyncEvent) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"syncId": event.SyncID,
		"event":  event.Key(),
	})

	// Events outlive a cancelled request: the error stage still has to land.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("[Progress] Event delivery panicked")
		}
	}()

	if t.sink != nil {
		if err := t.sink.Insert(deliverCtx, event); err != nil {
			logger.WithError(err).Warn("[Progress] Failed to store sync event")
		}
	}
	if t.broadcaster != nil {
		if err := t.broadcaster.Broadcast(deliverCtx, event); err != nil {
			logger.WithError(err).Warn("[Progress] Failed to broadcast sync event")
		}
	}
}

// Nop discards every event
type Nop struct{}

// Report implements Reporter
func (Nop) Report(context.Context, *models.SyncEvent) {}

// Recorder keeps every reported event in memory
type Recorder struct {
	mu     sync.Mutex
	events []*models.SyncEvent
}

// Report implements Reporter
func (r *Recorder) Report(_ context.Context, event *models.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*models.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.SyncEvent(nil), r.events...)
}

// Keys returns "stage:status" for every recorded event, optionally limited to one sync id
func (r *Recorder) Keys(syncID string) []string {
	var keys []string
	for _, e := range r.Events() {
		if syncID == "" || e.SyncID == syncID {
			keys = append(keys, e.Key())
		}
	}
	return keys
}
