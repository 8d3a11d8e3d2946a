package csv

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/rules"
)

var resultHeader = []string{
	"index", "left_foot_pressure", "right_foot_pressure", "core_stability", "mse",
	"lstm_anomaly", "iso_anomaly", "svm_anomaly", "final_anomaly", "alerts",
}

// Writer records datapoint events as CSV rows and flushes on the run's
// terminal event. Other events are ignored.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	w      *csv.Writer
	header bool
}

// NewWriter creates filename and writes results to it.
func NewWriter(filename string) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := NewWriterTo(file)
	w.closer = file
	return w, nil
}

// NewWriterTo writes results to dst. Close does not close dst.
func NewWriterTo(dst io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(dst)}
}

// Send implements emitter.Sink.
func (w *Writer) Send(ev emitter.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Type == emitter.DatapointFeedback && ev.Datapoint != nil:
		if !w.header {
			if err := w.w.Write(resultHeader); err != nil {
				return err
			}
			w.header = true
		}
		return w.w.Write(row(ev.Datapoint))
	case ev.Type.Terminal():
		w.w.Flush()
		return w.w.Error()
	}
	return nil
}

// Close flushes buffered rows and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.w.Flush()
	err := w.w.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func row(d *emitter.Datapoint) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		strconv.Itoa(d.Index),
		f(d.Left), f(d.Right), f(d.Core), f(d.MSE),
		strconv.FormatBool(d.LSTM),
		strconv.FormatBool(d.ISO),
		strconv.FormatBool(d.SVM),
		strconv.FormatBool(d.Final),
		rules.Join(d.Alerts),
	}
}
