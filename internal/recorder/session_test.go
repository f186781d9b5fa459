package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/timeseries"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// fakeSource hands out unbuffered channels, so a push returns only once the
// session's Run loop has taken the event.
type fakeSource struct {
	clock   *timeutil.MockClock
	missing map[sensor.Stream]bool

	mu      sync.Mutex
	next    int
	active  map[sensor.Stream]string
	chans   map[string]chan sensor.Event
	streams map[string]sensor.Stream
	// pendingAtUnsubscribe records clock.PendingTimers() at each Unsubscribe.
	pendingAtUnsubscribe []int
	subscribes           int
	failSubscribe        error
}

func newFakeSource(clock *timeutil.MockClock, missing ...sensor.Stream) *fakeSource {
	f := &fakeSource{
		clock:   clock,
		missing: map[sensor.Stream]bool{},
		active:  map[sensor.Stream]string{},
		chans:   map[string]chan sensor.Event{},
		streams: map[string]sensor.Stream{},
	}
	for _, s := range missing {
		f.missing[s] = true
	}
	return f
}

func (f *fakeSource) Available(s sensor.Stream) bool { return !f.missing[s] }

func (f *fakeSource) Subscribe(s sensor.Stream, interval time.Duration) (string, <-chan sensor.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.failSubscribe != nil && s == sensor.RotationVector {
		return "", nil, f.failSubscribe
	}
	f.next++
	id := string(rune('a' + f.next))
	ch := make(chan sensor.Event)
	f.active[s] = id
	f.chans[id] = ch
	f.streams[id] = s
	return id, ch, nil
}

func (f *fakeSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingAtUnsubscribe = append(f.pendingAtUnsubscribe, f.clock.PendingTimers())
	if ch, ok := f.chans[id]; ok {
		close(ch)
		delete(f.chans, id)
		delete(f.active, f.streams[id])
	}
}

func (f *fakeSource) channel(s sensor.Stream) chan sensor.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chans[f.active[s]]
}

func (f *fakeSource) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chans)
}

func (f *fakeSource) push(t *testing.T, s sensor.Stream, ts int64, v ...float32) {
	t.Helper()
	ch := f.channel(s)
	require.NotNil(t, ch, "%s not subscribed", s)
	ev := sensor.Event{Stream: s, Timestamp: ts}
	copy(ev.Values[:], v)
	select {
	case ch <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not take %s event", s)
	}
}

// closeStream simulates the source ending a stream on its own.
func (f *fakeSource) closeStream(s sensor.Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.active[s]
	close(f.chans[id])
	delete(f.chans, id)
	delete(f.active, s)
}

type harness struct {
	t       *testing.T
	clock   *timeutil.MockClock
	source  *fakeSource
	session *Session
	results chan Result
	cancel  context.CancelFunc
	runErr  chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	h := &harness{
		t:       t,
		clock:   clock,
		source:  newFakeSource(clock),
		results: make(chan Result, 4),
		runErr:  make(chan error, 1),
	}
	s, err := New(cfg, h.source, clock, ConsumerFunc(func(r Result) {
		// Copy inside the callback: the buffers are borrowed.
		h.results <- r.Clone()
	}))
	require.NoError(t, err)
	h.session = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) result() Result {
	h.t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		h.t.Fatal("no recording result")
	}
	return Result{}
}

func (h *harness) state() State {
	h.t.Helper()
	st, err := h.session.State(context.Background())
	require.NoError(h.t, err)
	return st
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 1201, Capacity(DefaultConfig()))
	assert.Equal(t, 2, Capacity(Config{Duration: time.Millisecond, SamplingInterval: time.Millisecond}))
	assert.Equal(t, 241, Capacity(Config{Duration: time.Second, SamplingInterval: 5 * time.Millisecond}))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{SamplingInterval: time.Millisecond}.Validate())
	assert.Error(t, Config{Duration: time.Second}.Validate())
	assert.Error(t, Config{Duration: time.Second, SamplingInterval: time.Millisecond, GravityAlpha: 1}.Validate())
}

func TestNew_SensorUnavailable(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := newFakeSource(clock, sensor.Gyroscope)

	_, err := New(DefaultConfig(), src, clock, nil)
	assert.True(t, errors.Is(err, sensor.ErrUnavailable))
	assert.Zero(t, src.subscribes, "no subscription before the availability check")
}

func TestRecording_DoneAtDeadline(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateRecording, h.state())

	h.source.push(t, sensor.Accelerometer, 0, 0, 0, 9.8)
	h.source.push(t, sensor.Gyroscope, 1, 0, 0, 0.5)
	h.source.push(t, sensor.RotationVector, 2, 0, 0, 0, 1)
	h.source.push(t, sensor.Accelerometer, 5_000_000, 1, 0, 9.8)

	h.clock.Advance(cfg.Duration)
	r := h.result()

	assert.Equal(t, StatusDone, r.Status)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 2, r.Accel.Len())
	assert.Equal(t, 1, r.Gyro.Len())
	assert.Equal(t, 1, r.Rotation.Len())
	assert.Equal(t, []float32{0, 1}, r.Accel.Axis(0))
	assert.Equal(t, float32(1), r.Rotation.Value(3, 0))

	assert.Equal(t, StateTerminated, h.state())
	assert.Zero(t, h.source.activeCount(), "all streams unsubscribed")
}

func TestRecording_StopDeliversBeforeReturning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Gyroscope, 10, 1, 2, 3)

	require.NoError(t, h.session.Stop(context.Background()))
	select {
	case r := <-h.results:
		assert.Equal(t, StatusTerminated, r.Status)
		assert.Equal(t, 1, r.Gyro.Len())
	default:
		t.Fatal("Stop returned before the result was delivered")
	}

	// The deadline was cancelled, so advancing past it delivers nothing.
	h.clock.Advance(time.Minute)
	select {
	case r := <-h.results:
		t.Fatalf("unexpected second result %v", r.Status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecording_TimerCancelledBeforeUnsubscribe(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	h.result()

	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	require.Len(t, h.source.pendingAtUnsubscribe, 3)
	for _, pending := range h.source.pendingAtUnsubscribe {
		assert.Zero(t, pending)
	}
}

func TestRecording_OutOfBoundsStopsAllStreams(t *testing.T) {
	cfg := Config{Duration: time.Millisecond, SamplingInterval: time.Millisecond, GravityAlpha: 0.8}
	require.Equal(t, 2, Capacity(cfg))
	h := newHarness(t, cfg)

	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Gyroscope, 1, 0, 0, 1)
	h.source.push(t, sensor.Accelerometer, 1, 1, 1, 1)
	h.source.push(t, sensor.Accelerometer, 2, 2, 2, 2)
	h.source.push(t, sensor.Accelerometer, 3, 3, 3, 3)

	r := h.result()
	assert.Equal(t, StatusOutOfBounds, r.Status)
	assert.Equal(t, 2, r.Accel.Len(), "overflowing sample not stored")
	assert.Equal(t, []int64{1, 2}, r.Accel.Times())
	assert.Equal(t, 1, r.Gyro.Len(), "other streams keep their lengths")
	assert.Equal(t, 0, r.Rotation.Len())
	assert.Zero(t, h.source.activeCount())
	assert.Zero(t, h.clock.PendingTimers())
}

func TestRecording_StartWhileRecording(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrAlreadyRecording)
	assert.ErrorIs(t, h.session.Listen(context.Background()), ErrAlreadyRecording)
	assert.Equal(t, StateRecording, h.state())
}

func TestListening_SmoothsGravityAndStoresNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Listen(context.Background()))
	assert.Equal(t, StateListening, h.state())

	h.source.push(t, sensor.Accelerometer, 1, 10, 0, 5)
	h.source.push(t, sensor.Accelerometer, 2, 10, 0, 5)
	h.source.push(t, sensor.Gyroscope, 3, 100, 100, 100)

	subscribes := h.source.subscribes
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, subscribes, h.source.subscribes, "start reuses listening subscriptions")
	require.NoError(t, h.session.Stop(context.Background()))

	r := h.result()
	assert.Equal(t, 0, r.Accel.Len())
	assert.Equal(t, 0, r.Gyro.Len())
	// 0.8*0 + 0.2*10 = 2, then 0.8*2 + 0.2*10 = 3.6
	assert.InDelta(t, 3.6, r.Gravity[0], 1e-5)
	assert.InDelta(t, 0, r.Gravity[1], 1e-9)
	assert.InDelta(t, 1.8, r.Gravity[2], 1e-5)
}

func TestRecording_StartWithoutListenHasNoGravity(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Listen(context.Background()))
	h.source.push(t, sensor.Accelerometer, 1, 10, 0, 5)
	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
	first := h.result()
	require.NotEqual(t, [3]float32{}, first.Gravity)

	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Accelerometer, 2, 0, 0, 0)
	require.NoError(t, h.session.Stop(context.Background()))
	second := h.result()
	assert.Equal(t, [3]float32{}, second.Gravity)
}

func TestListening_StopReturnsToIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Listen(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))

	assert.Equal(t, StateIdle, h.state())
	assert.Zero(t, h.source.activeCount())
	select {
	case <-h.results:
		t.Fatal("stopping a listening session must not produce a result")
	default:
	}
}

func TestRecording_StreamClosedFails(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Accelerometer, 1, 0, 0, 9.8)
	h.source.closeStream(sensor.Gyroscope)

	r := h.result()
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 1, r.Accel.Len())
	assert.Zero(t, h.source.activeCount())
}

func TestRecording_RestartResetsBuffers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Accelerometer, 1, 1, 1, 1)
	h.source.push(t, sensor.Accelerometer, 2, 2, 2, 2)
	require.NoError(t, h.session.Stop(context.Background()))
	first := h.result()

	require.NoError(t, h.session.Start(context.Background()))
	h.source.push(t, sensor.Accelerometer, 10, 5, 5, 5)
	require.NoError(t, h.session.Stop(context.Background()))
	second := h.result()

	assert.Equal(t, 2, first.Accel.Len())
	assert.Equal(t, 1, second.Accel.Len())
	assert.Equal(t, int64(10), second.Accel.Time(0))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRecording_FailedSubscribeLeavesIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	boom := errors.New("port gone")
	h.source.mu.Lock()
	h.source.failSubscribe = boom
	h.source.mu.Unlock()

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateIdle, h.state())
	assert.Zero(t, h.source.activeCount())
}

func TestRun_CancelClosesSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.session.Start(context.Background()))

	h.cancel()
	select {
	case err := <-h.runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, h.source.activeCount())
	assert.Zero(t, h.clock.PendingTimers())
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrClosed)
}

func TestResultClone_Independent(t *testing.T) {
	b := timeseries.New(4, 3)
	require.NoError(t, b.Append(1, []float32{1, 2, 3}))
	r := Result{Accel: b, Gyro: timeseries.New(1, 3), Rotation: timeseries.New(1, 4)}

	c := r.Clone()
	b.Reset()
	assert.Equal(t, 1, c.Accel.Len())
}

func TestStatusStrings(t *testing.T) {
	for _, st := range []Status{StatusFailed, StatusDone, StatusTerminated, StatusOutOfBounds} {
		parsed, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
	assert.Equal(t, "recording", StateRecording.String())
}
