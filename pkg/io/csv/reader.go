// Package csv reads lifting-session samples from CSV and writes per-sample
// results back out as CSV.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/liftguard/pkg/sensor"
)

// Reader reads samples from CSV with a header row naming the feature
// columns. Other columns are ignored.
type Reader struct {
	closer  io.Closer
	reader  *csv.Reader
	headers []string
	columns [sensor.NumFeatures]int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom reads CSV from src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	return newReader(src, opts...)
}

func newReader(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{reader: csv.NewReader(src)}
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	headers, err := r.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	r.headers = headers

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for j, name := range sensor.FeatureNames() {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		r.columns[j] = i
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all samples.
func (r *Reader) Read() ([]sensor.Sample, error) {
	var samples []sensor.Sample

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, r.parse(record))
	}

	return samples, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// parse maps a record to a Sample. Absent or unparseable cells become NaN.
func (r *Reader) parse(record []string) sensor.Sample {
	var v [sensor.NumFeatures]float64
	for j, col := range r.columns {
		v[j] = cell(record, col)
	}
	return sensor.Sample{
		LeftFootPressure:  v[0],
		RightFootPressure: v[1],
		CoreStability:     v[2],
	}
}

func cell(record []string, col int) float64 {
	if col >= len(record) {
		return math.NaN()
	}
	s := strings.TrimSpace(record[col])
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
