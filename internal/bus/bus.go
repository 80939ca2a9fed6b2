// Package bus implements the cross-process event notification bus. Each
// window process constructs one Bus over the shared kvstore scope; Fire
// writes the latest envelope for an event name into the store, and the
// store's change notifications bring it back to every process (including
// the firing one) for local fan-out.
//
// Delivery is best effort and last-write-wins per event name: two rapid
// fires for the same name before any observer has re-read the key coalesce,
// and only the most recent payload is seen. Consumers must treat events as
// "state changed, re-read it" signals, not as a message log.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/telnet2/winbus/internal/kvstore"
	"github.com/telnet2/winbus/internal/logging"
)

// DefaultPrefix is the namespace prefix for store keys carrying events.
// Keys outside it are ignored by the bus.
const DefaultPrefix = "window.events."

// streamTopic is the watermill topic carrying accepted envelopes to Events
// subscribers.
const streamTopic = "bus.envelopes"

// Bus is the per-process face of the cross-process event bus. Construct it
// with New and release it with Close; there is no package-level instance.
type Bus struct {
	store  kvstore.Store
	prefix string
	origin string

	disp   *dispatcher
	pubsub *gochannel.GoChannel

	cancelWatch func()
	closeOnce   sync.Once
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrefix overrides the namespace prefix used for store keys.
func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		b.prefix = prefix
	}
}

// WithOrigin overrides the origin id stamped on fired envelopes. The
// default is a fresh ULID per Bus.
func WithOrigin(origin string) Option {
	return func(b *Bus) {
		b.origin = origin
	}
}

// New constructs a Bus over store and registers its change subscription.
// The caller owns the Bus and must Close it to release the subscription.
func New(store kvstore.Store, opts ...Option) *Bus {
	b := &Bus{
		store:  store,
		prefix: DefaultPrefix,
		origin: ulid.Make().String(),
		disp:   newDispatcher(),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.cancelWatch = store.OnChange(b.onChange)
	return b
}

// Origin returns the id stamped on envelopes fired by this Bus.
func (b *Bus) Origin() string {
	return b.origin
}

// Fire publishes an event: the envelope is encoded and written under
// prefix+name. It returns once the local write succeeds; there is no
// delivery confirmation and no retry. A nil payload fires as an empty map.
func (b *Bus) Fire(ctx context.Context, name string, payload map[string]any) error {
	if name == "" {
		return errors.New("fire: empty event name")
	}

	value, err := Encode(Envelope{Name: name, Payload: payload, Origin: b.origin})
	if err != nil {
		return fmt.Errorf("fire %q: %w", name, err)
	}
	if err := b.store.Set(ctx, b.prefix+name, value); err != nil {
		return fmt.Errorf("fire %q: %w", name, err)
	}
	return nil
}

// Current reads and decodes the latest envelope for name, without
// subscribing. Returns kvstore.ErrNotFound when nothing has been fired.
func (b *Bus) Current(ctx context.Context, name string) (Envelope, error) {
	value, err := b.store.Get(ctx, b.prefix+name)
	if err != nil {
		return Envelope{}, err
	}
	return Decode(value)
}

// SubscribeOption adjusts a single subscription.
type SubscribeOption func(*subscriberEntry)

// SkipSelf suppresses delivery of envelopes this Bus fired itself.
func SkipSelf() SubscribeOption {
	return func(e *subscriberEntry) {
		e.skipSelf = true
	}
}

// Subscribe registers fn for events whose name matches the glob pattern
// (e.g. "modelProvidersUpdated", "session.*"). It returns an unsubscribe
// function; calling it stops further deliveries to fn without affecting
// other subscriptions.
func (b *Bus) Subscribe(pattern string, fn Handler, opts ...SubscribeOption) (func(), error) {
	var entry subscriberEntry
	for _, opt := range opts {
		opt(&entry)
	}
	return b.disp.add(pattern, entry.skipSelf, fn)
}

// SubscribeAll registers fn for every event on the bus.
func (b *Bus) SubscribeAll(fn Handler, opts ...SubscribeOption) func() {
	unsub, _ := b.Subscribe("**", fn, opts...)
	return unsub
}

// Events returns a channel of envelopes accepted by this Bus, for streaming
// consumers. The channel closes when ctx is canceled or the Bus closes.
func (b *Bus) Events(ctx context.Context) (<-chan Envelope, error) {
	msgs, err := b.pubsub.Subscribe(ctx, streamTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe event stream: %w", err)
	}

	out := make(chan Envelope, 10)
	go func() {
		defer close(out)
		for msg := range msgs {
			e, err := Decode(string(msg.Payload))
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the store subscription, drops all subscribers, and closes
// the event stream. No cross-process coordination happens here; other
// processes keep running against the store.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.cancelWatch != nil {
			b.cancelWatch()
		}
		b.disp.clear()
		err = b.pubsub.Close()
	})
	return err
}

// onChange is the store-level change handler: filter to our namespace,
// re-read the current value (this re-read is where coalescing happens),
// decode, and fan out. Decode failures and vanished values are logged and
// dropped so one bad event never blocks the next.
func (b *Bus) onChange(key string) {
	if !strings.HasPrefix(key, b.prefix) {
		return
	}

	value, err := b.store.Get(context.Background(), key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			logging.Debug().Str("key", key).Msg("event value gone before read")
		} else {
			logging.Warn().Err(err).Str("key", key).Msg("event re-read failed")
		}
		return
	}

	e, err := Decode(value)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("dropping undecodable event")
		return
	}

	b.disp.dispatch(e, b.origin)

	if err := b.pubsub.Publish(streamTopic, message.NewMessage(watermill.NewUUID(), []byte(value))); err != nil {
		logging.Debug().Err(err).Str("event", e.Name).Msg("event stream publish failed")
	}
}
