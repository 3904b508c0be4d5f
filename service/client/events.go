package client

import (
	"runtime/debug"
	"sync"

	"github.com/golang/glog"

	"github.com/itiky/collaborate-doc/model"
)

type EventType string

const (
	EventConnectionError              EventType = "connection-error"
	EventIncomingPatchValidationError EventType = "incoming-patch-validation-error"
	EventOutgoingPatchValidationError EventType = "outgoing-patch-validation-error"
	EventStateReset                   EventType = "state-reset"
)

type (
	// Event is a session notification.
	Event struct {
		Type EventType
		// EventStateReset: the freshly initialized working document, listeners may mutate it
		Document model.Document
		// *transport.Error for EventConnectionError, *model.RangeError for validation events
		Err error
	}

	Listener func(ev Event)

	// EventBus delivers events synchronously to listeners in registration order.
	// Past events are not replayed to late subscribers.
	EventBus struct {
		sync.RWMutex
		listeners map[EventType][]Listener
	}
)

// Subscribe registers a listener for the event type.
func (b *EventBus) Subscribe(evType EventType, l Listener) {
	if l == nil {
		return
	}

	b.Lock()
	defer b.Unlock()

	b.listeners[evType] = append(b.listeners[evType], l)
}

// Emit calls all the listeners of ev.Type.
// A panicking listener is logged and does not prevent the following ones from running.
func (b *EventBus) Emit(ev Event) {
	b.RLock()
	listeners := make([]Listener, len(b.listeners[ev.Type]))
	copy(listeners, b.listeners[ev.Type])
	b.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("%s listener panic: %v\n%s", ev.Type, r, debug.Stack())
				}
			}()
			l(ev)
		}()
	}
}

// NewEventBus creates a new empty EventBus object.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[EventType][]Listener),
	}
}
