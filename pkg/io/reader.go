// Package io provides sample ingestion and result output.
package io

import (
	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

// Reader is the interface for reading session samples from a source.
type Reader interface {
	// Read returns every sample in source order. Missing values are
	// reported as NaN so callers can drop incomplete rows consistently.
	Read() ([]sensor.Sample, error)

	// Close releases resources.
	Close() error
}

// Writer persists per-sample results as they are emitted.
type Writer interface {
	emitter.Sink

	// Close flushes and releases resources.
	Close() error
}

// ReadAll reads every sample from r and closes it.
func ReadAll(r Reader) ([]sensor.Sample, error) {
	defer r.Close()
	return r.Read()
}
