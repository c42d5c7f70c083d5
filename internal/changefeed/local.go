package changefeed

import (
	"context"
	"errors"
	"sync"
)

// Local dispatches changes to handlers registered in this process.
type Local struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]Handler
}

func NewLocal() *Local {
	return &Local{handlers: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (l *Local) Subscribe(h Handler) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = h
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

func (l *Local) Publish(ctx context.Context, change Change) error {
	l.Dispatch(change)
	return nil
}

// Dispatch delivers change to every registered handler. It doubles as the Handler
// remote sources feed into.
func (l *Local) Dispatch(change Change) {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, change Change) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every change.
type Discard struct{}

func (Discard) Publish(context.Context, Change) error { return nil }
