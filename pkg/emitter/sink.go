package emitter

import (
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives the events of a run in order.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error {
	return f(ev)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]Type, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

// WriterSink writes one JSON document per line.
type WriterSink struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

// NewWriterSink creates a sink writing JSON lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}

// Tee sends each event to every sink and stops at the first error.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) error {
		for _, s := range sinks {
			if err := s.Send(ev); err != nil {
				return err
			}
		}
		return nil
	})
}
