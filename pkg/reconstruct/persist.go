package reconstruct

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gonum.org/v1/gonum/mat"
)

const weightsVersion = 1

type weights struct {
	Version     int
	Timesteps   int
	Features    int
	OuterUnits  int
	LatentUnits int
	Params      [][]byte
}

// Save serializes the model weights.
func (m *Model) Save() ([]byte, error) {
	w := weights{
		Version:     weightsVersion,
		Timesteps:   m.timesteps,
		Features:    m.features,
		OuterUnits:  m.outerUnits,
		LatentUnits: m.latentUnits,
	}
	for _, p := range m.params() {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.Params = append(w.Params, b)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load replaces the model weights with serialized ones. The architecture
// recorded in data must match the model's.
func (m *Model) Load(data []byte) error {
	var w weights
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return fmt.Errorf("decoding weights: %w", err)
	}
	if w.Version != weightsVersion {
		return fmt.Errorf("unsupported weights version %d", w.Version)
	}
	if w.Timesteps != m.timesteps || w.Features != m.features ||
		w.OuterUnits != m.outerUnits || w.LatentUnits != m.latentUnits {
		return fmt.Errorf("weights shape T=%d F=%d units=%d/%d does not match model T=%d F=%d units=%d/%d",
			w.Timesteps, w.Features, w.OuterUnits, w.LatentUnits,
			m.timesteps, m.features, m.outerUnits, m.latentUnits)
	}

	params := m.params()
	if len(w.Params) != len(params) {
		return fmt.Errorf("weights hold %d tensors, model has %d", len(w.Params), len(params))
	}

	loaded := make([]*mat.Dense, len(params))
	for k, raw := range w.Params {
		var d mat.Dense
		if err := d.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("tensor %d: %w", k, err)
		}
		wr, wc := d.Dims()
		pr, pc := params[k].Dims()
		if wr != pr || wc != pc {
			return fmt.Errorf("tensor %d is %dx%d, want %dx%d", k, wr, wc, pr, pc)
		}
		loaded[k] = &d
	}
	for k, d := range loaded {
		params[k].Copy(d)
	}
	return nil
}

// SaveFile writes the weights to path.
func (m *Model) SaveFile(path string) error {
	data, err := m.Save()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads weights from path. A missing file yields ErrModelUnavailable.
func (m *Model) LoadFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no weights path configured", ErrModelUnavailable)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s not found", ErrModelUnavailable, path)
	}
	if err != nil {
		return err
	}
	return m.Load(data)
}
