package sensor

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/serialmux"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Event
	}{
		{
			line: "accel,1000,0.5,-0.25,9.81",
			want: Event{Stream: Accelerometer, Timestamp: 1000, Values: [4]float32{0.5, -0.25, 9.81}},
		},
		{
			line: " gyro,42,0,0,1.5 ",
			want: Event{Stream: Gyroscope, Timestamp: 42, Values: [4]float32{0, 0, 1.5}},
		},
		{
			line: "rotation,7,0,0,0.7071,0.7071",
			want: Event{Stream: RotationVector, Timestamp: 7, Values: [4]float32{0, 0, 0.7071, 0.7071}},
		},
		{
			line: "rotation,7,0.1,0.2,0.3",
			want: Event{Stream: RotationVector, Timestamp: 7, Values: [4]float32{0.1, 0.2, 0.3}},
		},
	}
	for _, tt := range tests {
		got, err := ParseLine(tt.line)
		require.NoError(t, err, tt.line)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseLine(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{
		"accel,1,2,3",
		"magnet,1,0,0,0",
		"accel,x,0,0,0",
		"accel,1,0,zero,0",
		"accel,1,0,0,0,0",
		"gyro,1,0,0,0,0,0",
	} {
		_, err := ParseLine(line)
		assert.Error(t, err, line)
	}
}

func TestFormatLine_ParsesBack(t *testing.T) {
	ev := Event{Stream: RotationVector, Timestamp: 123456789, Values: [4]float32{0.1, -0.2, 0.3, 0.9}}
	got, err := ParseLine(FormatLine(ev))
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestStreamNames(t *testing.T) {
	for _, s := range Streams {
		parsed, err := ParseStream(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.Equal(t, 4, RotationVector.Width())
	assert.Equal(t, 3, Gyroscope.Width())
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestMuxSource_RoutesByStream(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux(port)
	src := NewMuxSource(mux, Accelerometer, Gyroscope, RotationVector)

	accelID, accel, err := src.Subscribe(Accelerometer, 5*time.Millisecond)
	require.NoError(t, err)
	_, gyro, err := src.Subscribe(Gyroscope, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, port.Written(), "ACC=5000\n")
	assert.Contains(t, port.Written(), "GYR=5000\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	port.AddReadData("# ready\naccel,10,0,0,9.8\nnoise\ngyro,11,0,0,1\naccel,12,1,0,9.8\n")

	a := recv(t, accel)
	assert.Equal(t, int64(10), a.Timestamp)
	assert.Equal(t, int64(11), recv(t, gyro).Timestamp)
	assert.Equal(t, int64(12), recv(t, accel).Timestamp)

	src.Unsubscribe(accelID)
	_, ok := <-accel
	assert.False(t, ok)
	assert.Contains(t, port.Written(), "ACC=OFF\n")
}

func TestMuxSource_Unavailable(t *testing.T) {
	src := NewMuxSource(serialmux.NewDisabledSerialMux())
	for _, s := range Streams {
		assert.False(t, src.Available(s))
		_, _, err := src.Subscribe(s, time.Millisecond)
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
}

func TestMuxSource_MuxCloseEndsSubscribers(t *testing.T) {
	mux := serialmux.NewDisabledSerialMux()
	src := NewMuxSource(mux, Accelerometer)

	_, ch, err := src.Subscribe(Accelerometer, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, mux.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not closed after mux close")
	}
}

func TestMuxSource_CountsParseErrors(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	src := NewMuxSource(mux, Accelerometer)
	_, ch, err := src.Subscribe(Accelerometer, time.Millisecond)
	require.NoError(t, err)

	port.AddReadData("accel,1,0,0\naccel,2,0,0,1\n")
	require.NoError(t, mux.Monitor(context.Background()))

	assert.Equal(t, int64(2), recv(t, ch).Timestamp)
	parseErrors, dropped := src.Stats()
	assert.Equal(t, uint64(1), parseErrors)
	assert.Zero(t, dropped)
}

func TestSyntheticSource_TicksFromClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewSyntheticSource(clock)

	id, ch, err := src.Subscribe(RotationVector, 5*time.Millisecond)
	require.NoError(t, err)

	clock.Advance(5 * time.Millisecond)
	ev := recv(t, ch)
	assert.Equal(t, int64(5*time.Millisecond), ev.Timestamp)

	// The rotation vector stays a unit quaternion.
	var norm float64
	for _, v := range ev.Vector() {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, math.Sqrt(norm), 1e-6)

	src.Unsubscribe(id)
	for range ch {
	}
}

func TestSyntheticSource_Sample(t *testing.T) {
	src := NewSyntheticSource(timeutil.NewMockClock(time.Unix(0, 0)), Accelerometer)
	assert.False(t, src.Available(Gyroscope))
	_, _, err := src.Subscribe(Gyroscope, time.Millisecond)
	assert.ErrorIs(t, err, ErrUnavailable)

	ev := src.Sample(Accelerometer, 0)
	assert.InDelta(t, 9.80665, ev.Values[2], 1e-5)
	assert.True(t, strings.HasPrefix(FormatLine(ev), "accel,0,"))
}
