package bus

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/telnet2/winbus/internal/logging"
)

// Handler receives envelopes delivered to this process.
type Handler func(e Envelope)

// subscriberEntry wraps a handler with its id and match settings.
type subscriberEntry struct {
	id       uint64
	pattern  string
	skipSelf bool
	fn       Handler
}

// dispatcher fans a decoded envelope out to local subscribers, synchronously
// and in registration order. A panicking subscriber is logged and skipped;
// the remaining subscribers still run.
type dispatcher struct {
	mu     sync.Mutex
	subs   []subscriberEntry
	nextID uint64
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

// add registers a subscriber and returns its unsubscribe function. pattern
// is a glob over event names; "**" matches everything.
func (d *dispatcher) add(pattern string, skipSelf bool, fn Handler) (func(), error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("subscribe: invalid pattern %q", pattern)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriberEntry{id: id, pattern: pattern, skipSelf: skipSelf, fn: fn})

	return func() {
		d.remove(id)
	}, nil
}

func (d *dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, entry := range d.subs {
		if entry.id == id {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			break
		}
	}
}

func (d *dispatcher) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = nil
}

// dispatch delivers e to every matching subscriber. origin is the local bus
// origin, used to honor skipSelf.
func (d *dispatcher) dispatch(e Envelope, origin string) {
	d.mu.Lock()
	subs := make([]subscriberEntry, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	for _, entry := range subs {
		if entry.skipSelf && e.Origin != "" && e.Origin == origin {
			continue
		}
		if ok, _ := doublestar.Match(entry.pattern, e.Name); !ok {
			continue
		}
		invoke(entry.fn, e)
	}
}

// invoke runs one subscriber, isolating panics so one failing subscriber
// never blocks the rest.
func invoke(fn Handler, e Envelope) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("event", e.Name).
				Any("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	fn(e)
}
