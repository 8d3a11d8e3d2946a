package csv

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/liftguard/pkg/emitter"
	"github.com/hed1ad/liftguard/pkg/fusion"
	lgio "github.com/hed1ad/liftguard/pkg/io"
	"github.com/hed1ad/liftguard/pkg/sensor"
)

const session = `timestamp,left_foot_pressure,right_foot_pressure,core_stability
0,0.5,0.4,0.9
1,0.6,,0.8
2,0.55,0.45
3,abc,0.5,0.7
4, 0.52 ,0.48,0.85
`

func TestRead(t *testing.T) {
	r, err := NewReaderFrom(strings.NewReader(session))
	require.NoError(t, err)
	defer r.Close()

	samples, err := r.Read()
	require.NoError(t, err)
	require.Len(t, samples, 5)

	assert.Equal(t, sensor.Sample{LeftFootPressure: 0.5, RightFootPressure: 0.4, CoreStability: 0.9}, samples[0])
	assert.True(t, math.IsNaN(samples[1].RightFootPressure))
	assert.True(t, math.IsNaN(samples[2].CoreStability))
	assert.True(t, math.IsNaN(samples[3].LeftFootPressure))
	assert.Equal(t, 0.52, samples[4].LeftFootPressure)

	clean := sensor.DropIncomplete(samples)
	assert.Len(t, clean, 2)
}

func TestColumnOrderFromHeader(t *testing.T) {
	src := "core_stability,right_foot_pressure,left_foot_pressure\n0.9,0.2,0.1\n"
	r, err := NewReaderFrom(strings.NewReader(src))
	require.NoError(t, err)

	samples, err := r.Read()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, sensor.Sample{LeftFootPressure: 0.1, RightFootPressure: 0.2, CoreStability: 0.9}, samples[0])
}

func TestMissingColumn(t *testing.T) {
	_, err := NewReaderFrom(strings.NewReader("left_foot_pressure,core_stability\n1,2\n"))
	assert.ErrorContains(t, err, "right_foot_pressure")
}

func TestWithComma(t *testing.T) {
	src := "left_foot_pressure;right_foot_pressure;core_stability\n1;2;3\n"
	r, err := NewReaderFrom(strings.NewReader(src), WithComma(';'))
	require.NoError(t, err)

	samples, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []sensor.Sample{{LeftFootPressure: 1, RightFootPressure: 2, CoreStability: 3}}, samples)
}

func TestNewReaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, os.WriteFile(path, []byte(session), 0o600))

	r, err := NewReader(path)
	require.NoError(t, err)
	samples, err := lgio.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, samples, 5)

	_, err = NewReader(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestReadSourceError(t *testing.T) {
	errDropped := errors.New("connection dropped")
	src := io.MultiReader(
		strings.NewReader("left_foot_pressure,right_foot_pressure,core_stability\n0.1,0.2,0.3\n"),
		iotest.ErrReader(errDropped),
	)
	r, err := NewReaderFrom(src)
	require.NoError(t, err)

	samples, err := r.Read()
	assert.ErrorIs(t, err, errDropped)
	assert.Nil(t, samples)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterTo(&buf)

	require.NoError(t, w.Send(emitter.Event{Type: emitter.EpochUpdate, Epoch: &emitter.Epoch{Epoch: 1}}))
	require.NoError(t, w.Send(emitter.Event{
		Type: emitter.DatapointFeedback,
		Datapoint: &emitter.Datapoint{
			Index: 1, Left: 0.9, Right: 0.1, Core: 0.5, MSE: 0.25,
			Verdict: fusion.Decide(true, false, true),
			Alerts:  []string{"severe imbalance", "right foot under-pressure"},
		},
	}))
	require.NoError(t, w.Send(emitter.Event{Type: emitter.AnalysisComplete}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(resultHeader, ","), lines[0])
	assert.Equal(t, "1,0.9,0.1,0.5,0.25,true,false,true,true,severe imbalance | right foot under-pressure", lines[1])
}

var _ lgio.Reader = (*Reader)(nil)
var _ lgio.Writer = (*Writer)(nil)
