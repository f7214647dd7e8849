package homie

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Observer receives model events.
//
// Implementations must be comparable (typically a pointer) because the bus
// identifies observers by equality. Use ObserverFunc to adapt a function.
type Observer interface {
	OnEvent(evt Event) error
}

// funcObserver adapts a function to Observer. It is always handled by
// pointer so two adapters of the same function are distinct observers.
type funcObserver struct {
	fn func(Event) error
}

func (f *funcObserver) OnEvent(evt Event) error {
	return f.fn(evt)
}

// ObserverFunc returns an Observer that calls fn for every event.
func ObserverFunc(fn func(Event) error) Observer {
	return &funcObserver{fn: fn}
}

// subscription is one registered observer. active is cleared on
// unsubscribe so an in-flight Emit skips it.
type subscription struct {
	observer Observer
	active   atomic.Bool
}

// EventBus broadcasts events synchronously to registered observers.
//
// Thread Safety:
//   - Subscribe, Unsubscribe and Emit are safe for concurrent use.
//   - The observer list is copy-on-write; Emit iterates a snapshot and
//     skips observers unsubscribed after the snapshot was taken.
type EventBus struct {
	mu     sync.Mutex
	subs   []*subscription
	logger Logger

	onFailure atomic.Pointer[func(error)]
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{logger: noopLogger{}}
}

// SetLogger sets the logger used to report observer failures.
func (b *EventBus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// SetFailureHook sets a callback invoked for every observer failure, after
// it has been logged. Pass nil to clear.
func (b *EventBus) SetFailureHook(hook func(error)) {
	if hook == nil {
		b.onFailure.Store(nil)
		return
	}
	b.onFailure.Store(&hook)
}

// Subscribe registers an observer. Registering an observer twice is a no-op.
func (b *EventBus) Subscribe(o Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		if s.observer == o {
			return
		}
	}

	sub := &subscription{observer: o}
	sub.active.Store(true)

	next := make([]*subscription, len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, sub)
}

// Unsubscribe removes an observer and reports whether it was registered.
func (b *EventBus) Unsubscribe(o Observer) bool {
	if o == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.observer != o {
			continue
		}
		s.active.Store(false)
		next := make([]*subscription, 0, len(b.subs)-1)
		next = append(next, b.subs[:i]...)
		b.subs = append(next, b.subs[i+1:]...)
		return true
	}
	return false
}

// Len returns the number of registered observers.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers evt to every registered observer in registration order.
// A failing observer is logged and skipped; delivery continues.
func (b *EventBus) Emit(evt Event) {
	b.mu.Lock()
	subs := b.subs
	logger := b.logger
	b.mu.Unlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := deliver(s.observer, evt); err != nil {
			logger.Warn("observer failed",
				"event", evt.Type,
				"device_id", evt.DeviceID(),
				"error", err,
			)
			if hook := b.onFailure.Load(); hook != nil {
				(*hook)(err)
			}
		}
	}
}

// deliver calls the observer, converting a panic into an error.
func deliver(o Observer, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrObserverFailed, r)
		}
	}()

	if oerr := o.OnEvent(evt); oerr != nil {
		return fmt.Errorf("%w: %w", ErrObserverFailed, oerr)
	}
	return nil
}
