package entities

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fbarre96/pollenisator/internal/event"
	"github.com/fbarre96/pollenisator/internal/store"
	"github.com/fbarre96/pollenisator/pkg/plugin"
	"go.uber.org/zap"
)

// eventRecorder captures every event published during a test.
type eventRecorder struct {
	mu     sync.Mutex
	events []plugin.Event
}

func (r *eventRecorder) record(_ context.Context, e plugin.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// topics returns the recorded topics in publication order.
func (r *eventRecorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

func (r *eventRecorder) countTopic(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

// testService builds a Service on an in-memory database with a recording
// bus, a fixed clock and a canned resolver.
func testService(t *testing.T) (*Service, *eventRecorder) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx, "entities", Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := event.NewBus(zap.NewNop())
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.record)

	svc := NewService(NewStore(db.DB()), bus, zap.NewNop())
	svc.SetClock(func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	})
	svc.SetResolver(func(host string) ([]string, error) {
		return nil, nil
	})
	return svc, rec
}

func mustRegister(t *testing.T, svc *Service, name string) {
	t.Helper()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	res, err := svc.RegisterEngagement(context.Background(), name, start, end, nil)
	if err != nil {
		t.Fatalf("RegisterEngagement: %v", err)
	}
	if !res.Ok {
		t.Fatalf("RegisterEngagement: engagement %q already exists", name)
	}
}
