// Package events is an in-process publish/subscribe bus.
//
// Delivery is synchronous and at-most-once per listener. A payload emitted
// before a listener subscribes is not replayed to it; the most recent payload
// of each event can be read once with Last.
package events

import (
	"log/slog"
	"sync"
)

// Event names emitted by the API and the worker.
const (
	AnalysisCreated     = "analysis.created"
	ResidualCreated     = "residual.created"
	ProjectCompleted    = "project.completed"
	AIAnalysisCompleted = "ai_analysis.completed"
)

// Listener receives the payload passed to Emit.
type Listener func(payload any)

type subscription struct {
	id int
	fn Listener
}

// Bus is safe for concurrent use. The zero value is not usable; call NewBus.
type Bus struct {
	log *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
	last   map[string]any
}

// NewBus creates an empty bus. Panics raised by listeners are logged on log.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[string][]subscription),
		last: make(map[string]any),
	}
}

// On registers fn for event and returns a function that removes it.
// Calling the returned function more than once is a no-op.
func (b *Bus) On(event string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(event, id) })
	}
}

func (b *Bus) off(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			// Copy so a concurrent Emit iterating the old slice is unaffected.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, event)
			} else {
				b.subs[event] = next
			}
			return
		}
	}
}

// Emit records payload as the last value of event, then calls every listener
// registered at the time of the call, in registration order. A listener that
// panics is recovered and the remaining listeners still run.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	b.last[event] = payload
	subs := b.subs[event]
	b.mu.Unlock()

	for _, s := range subs {
		b.call(event, s.fn, payload)
	}
}

func (b *Bus) call(event string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

// Last returns the most recent payload emitted for event. With consume set,
// the stored payload is cleared so the next call reports nothing.
func (b *Bus) Last(event string, consume bool) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.last[event]
	if ok && consume {
		delete(b.last, event)
	}
	return p, ok
}

// Listeners returns the number of listeners registered for event.
func (b *Bus) Listeners(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}
