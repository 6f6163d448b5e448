package eventbus

import (
	"sync"
	"time"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/projection"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// Subscriber is one presentation adapter's view onto a game's outward
// event stream (§4.3): Send delivers a redacted event, Refresh fires at
// most once per coalesce window to tell a GUI to re-pull the full
// snapshot instead of replaying every micro-event.
type Subscriber struct {
	Viewer  types.Viewer
	Send    func(types.ProjectedEvent)
	Refresh func()
}

// Bus fans a game's committed events out to its subscribers, applying
// the per-viewer redaction projection.Project already implements, and
// coalesces Refresh signals so a burst of events (e.g. a whole night
// resolution) triggers one GUI refresh instead of one per event.
type Bus struct {
	mu            sync.RWMutex
	subs          map[string]*Subscriber
	coalesceEvery time.Duration
	lastRefresh   time.Time
	pendingTimer  *time.Timer
}

func New(coalesceEvery time.Duration) *Bus {
	if coalesceEvery <= 0 {
		coalesceEvery = 150 * time.Millisecond
	}
	return &Bus{subs: make(map[string]*Subscriber), coalesceEvery: coalesceEvery}
}

func (b *Bus) Subscribe(id string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = s
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers one batch of committed events (typically everything
// produced by a single HandleCommand call) to every subscriber, each
// redacted to that subscriber's viewer, then schedules at most one
// coalesced Refresh.
func (b *Bus) Publish(events []types.Event, game engine.Game) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			if projected := projection.Project(ev, game, s.Viewer); projected != nil {
				s.Send(*projected)
			}
		}
	}
	if len(events) > 0 {
		b.scheduleRefresh(subs)
	}
}

func (b *Bus) scheduleRefresh(subs []*Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pendingTimer != nil {
		return // a refresh is already scheduled for this coalesce window
	}
	elapsed := time.Since(b.lastRefresh)
	delay := b.coalesceEvery - elapsed
	if delay < 0 {
		delay = 0
	}
	b.pendingTimer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.lastRefresh = time.Now()
		b.pendingTimer = nil
		b.mu.Unlock()
		for _, s := range subs {
			if s.Refresh != nil {
				s.Refresh()
			}
		}
	})
}
