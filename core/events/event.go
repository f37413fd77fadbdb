package events

// Event represents a structured oracle state change.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (history, streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

type fanout []Emitter

// Fanout returns an Emitter that forwards every event to each non-nil
// emitter in order.
func Fanout(emitters ...Emitter) Emitter {
	out := make(fanout, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (f fanout) Emit(evt Event) {
	for _, e := range f {
		e.Emit(evt)
	}
}
