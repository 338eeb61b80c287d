package backend

import (
	"fmt"
	"sync"
)

type EventKind int

const (
	EventAdded EventKind = iota
	EventUpdated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is emitted by a store after a change to key became visible.
type Event struct {
	Kind EventKind
	Key  string
}

// Listener receives store change events. HandleEvent is called synchronously
// from the goroutine that performed the change and must not block.
type Listener interface {
	HandleEvent(event Event)
}

// ListenerFunc adapts a plain function to a Listener. Use a pointer to it
// when it needs to be removed again, since function values are not comparable.
type ListenerFunc func(event Event)

func (f *ListenerFunc) HandleEvent(event Event) {
	(*f)(event)
}

// Listeners is an embeddable listener registry for Storage implementations.
type Listeners struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (l *Listeners) AddListener(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.listeners = append(l.listeners, listener)
}

func (l *Listeners) RemoveListener(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to every registered listener.
func (l *Listeners) Emit(kind EventKind, key string) {
	l.mu.RLock()
	listeners := make([]Listener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.RUnlock()

	event := Event{Kind: kind, Key: key}
	for _, listener := range listeners {
		listener.HandleEvent(event)
	}
}
