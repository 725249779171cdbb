package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives bus messages.
type Handler func(msg Message)

// Invoker runs a function on the thread that owns the bus consumers.
// The session loop implements it.
type Invoker interface {
	Invoke(fn func())
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches messages to subscribed handlers.
//
// Publish is synchronous: handlers run on the caller's goroutine, in
// subscription order, before Publish returns. Goroutines other than the
// loop thread use Post, which hands the dispatch to the Invoker.
type Bus struct {
	mu        sync.RWMutex
	subs      []subscription
	nextID    uint64
	invoker   Invoker
	published uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// SetInvoker sets the invoker used by Post.
func (b *Bus) SetInvoker(inv Invoker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoker = inv
}

// Subscribe registers handler and returns a function removing it.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to every handler synchronously.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	b.published++
	handlers := make([]Handler, len(b.subs))
	for i, s := range b.subs {
		handlers[i] = s.handler
	}
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Bus.Publish",
		"type":     msg.Type.String(),
		"source":   msg.Source,
		"handlers": len(handlers),
	}).Trace("Dispatching bus message")

	for _, h := range handlers {
		h(msg)
	}
}

// Post delivers msg on the invoker's thread. Without an invoker it behaves
// like Publish.
func (b *Bus) Post(msg Message) {
	b.mu.RLock()
	inv := b.invoker
	b.mu.RUnlock()

	if inv == nil {
		b.Publish(msg)
		return
	}
	inv.Invoke(func() { b.Publish(msg) })
}

// Published returns the number of messages dispatched so far.
func (b *Bus) Published() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published
}
