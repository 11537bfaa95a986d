// Package event provides a small typed observer list and an ordered
// asynchronous delivery queue shared by the signaling client and the call
// orchestrator.
package event

import "sync"

// HandlerID identifies a subscription for Off.
type HandlerID uint64

type entry[E any] struct {
	id HandlerID
	fn func(E)
}

// Bus fans events of kind K out to subscribers in subscription order.
// The zero value is ready to use.
type Bus[K comparable, E any] struct {
	mu       sync.RWMutex
	next     HandlerID
	handlers map[K][]entry[E]
}

func (b *Bus[K, E]) On(kind K, fn func(E)) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[K][]entry[E])
	}
	b.next++
	b.handlers[kind] = append(b.handlers[kind], entry[E]{id: b.next, fn: fn})
	return b.next
}

// Off removes a subscription. Unknown ids are ignored.
func (b *Bus[K, E]) Off(kind K, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[kind]
	for i, h := range list {
		if h.id == id {
			b.handlers[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit calls every handler for kind synchronously. Handlers may
// subscribe or unsubscribe while being called.
func (b *Bus[K, E]) Emit(kind K, ev E) {
	b.mu.RLock()
	list := b.handlers[kind]
	b.mu.RUnlock()

	for _, h := range list {
		h.fn(ev)
	}
}
