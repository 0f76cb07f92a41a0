package fileio

import (
	"github.com/pkg/errors"
)

// Payload is a fully assembled transfer
type Payload struct {
	TransferID int64
	Name       string // Unsanitized name from the wire, empty for frames
	Data       []byte
}

// Sink consumes assembled payloads. Implementations must be safe for concurrent use.
type Sink interface {
	Deliver(p *Payload) error
}

// FuncSink adapts a function to Sink
type FuncSink func(p *Payload) error

func (f FuncSink) Deliver(p *Payload) error {
	return f(p)
}

// TeeSink delivers every payload to all sinks and reports the first failure
type TeeSink []Sink

func (t TeeSink) Deliver(p *Payload) error {
	var first error
	for _, sink := range t {
		if err := sink.Deliver(p); err != nil && first == nil {
			first = errors.Wrapf(err, "transfer %d", p.TransferID)
		}
	}
	return first
}

// PreviewSink hands the newest payload to a live consumer.
// When the consumer is busy the older waiting payload is replaced, never queued.
type PreviewSink struct {
	latest chan *Payload
}

func NewPreviewSink() *PreviewSink {
	return &PreviewSink{latest: make(chan *Payload, 1)}
}

func (s *PreviewSink) Deliver(p *Payload) error {
	for {
		select {
		case s.latest <- p:
			return nil
		default:
		}
		// Drop the stale one and retry.
		select {
		case <-s.latest:
		default:
		}
	}
}

// Frames returns channel the consumer reads from
func (s *PreviewSink) Frames() <-chan *Payload {
	return s.latest
}
