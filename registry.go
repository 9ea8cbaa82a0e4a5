package outbox

import (
	"encoding/json"
	"fmt"
)

// Event is a domain event that can be enqueued. EventName returns the stable
// type tag used for registry lookup; it must not depend on runtime type
// inspection.
type Event interface {
	EventName() string
}

// KeyFunc extracts the partition/routing key from an event, typically the
// aggregate identifier.
type KeyFunc func(Event) string

// EncodeFunc serializes an event payload.
type EncodeFunc func(Event) ([]byte, error)

// Registration maps one event name to its destination and codec.
type Registration struct {
	// Topic is the destination channel for envelopes of this type. Required.
	Topic string

	// Key extracts the partition key from the event. Required.
	Key KeyFunc

	// Type is the logical message type name put on the envelope.
	// Defaults to the registered event name.
	Type string

	// Format is the payload encoding tag. Defaults to FormatJSON.
	Format string

	// Encode serializes the event payload. Defaults to json.Marshal.
	Encode EncodeFunc
}

// Registry is the static message-type table consumed by the enqueuer. It is
// populated once at process startup and read-only afterwards; Register must
// not be called concurrently with Lookup.
type Registry struct {
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
	}
}

// Register adds a registration under the given event name. It fails on an
// empty name, a missing topic or key extractor, or a duplicate name.
func (r *Registry) Register(name string, reg Registration) error {
	if name == "" {
		return fmt.Errorf("event name is required")
	}
	if reg.Topic == "" {
		return fmt.Errorf("registration for %q: topic is required", name)
	}
	if reg.Key == nil {
		return fmt.Errorf("registration for %q: key extractor is required", name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("message type %q already registered", name)
	}

	if reg.Type == "" {
		reg.Type = name
	}
	if reg.Format == "" {
		reg.Format = FormatJSON
	}
	if reg.Encode == nil {
		reg.Encode = func(e Event) ([]byte, error) {
			return json.Marshal(e)
		}
	}

	r.entries[name] = reg
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup
// wiring where a bad registration is a programming error.
func (r *Registry) MustRegister(name string, reg Registration) {
	if err := r.Register(name, reg); err != nil {
		panic(err)
	}
}

// Lookup returns the registration for the given event name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	reg, ok := r.entries[name]
	return reg, ok
}

// Len returns the number of registered message types.
func (r *Registry) Len() int {
	return len(r.entries)
}
