// Package recorder captures a bounded-duration recording of the three motion
// streams into pre-allocated buffers.
//
// A Session owns one buffer per stream and a single goroutine (Run) that
// receives every sensor event, the deadline timer, and control commands. All
// buffer writes and the delivery of the Result happen on that goroutine, so
// the buffers need no locking.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/sensor"
	"github.com/banshee-data/kinetic/internal/timeseries"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

var logf = monitoring.Prefixed("recorder")

var (
	// ErrAlreadyRecording is returned by Start and Listen while a recording
	// is in progress.
	ErrAlreadyRecording = errors.New("recorder: already recording")
	// ErrClosed is returned by control calls once Run has returned.
	ErrClosed = errors.New("recorder: session closed")
)

// State is the lifecycle position of a Session.
type State int

const (
	// StateIdle has no subscriptions.
	StateIdle State = iota
	// StateListening is subscribed and tracks gravity, storing nothing.
	StateListening
	// StateRecording appends every event to the buffers until the deadline.
	StateRecording
	// StateTerminated has delivered a Result. The buffers stay valid until
	// the next Start; transitions behave as from StateIdle.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the outcome of a recording.
type Status int

const (
	// StatusFailed means a stream ended while recording.
	StatusFailed Status = -1
	// StatusDone means the deadline elapsed.
	StatusDone Status = 0
	// StatusTerminated means Stop was called.
	StatusTerminated Status = 1
	// StatusOutOfBounds means a buffer filled before the deadline.
	StatusOutOfBounds Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusDone:
		return "done"
	case StatusTerminated:
		return "terminated"
	case StatusOutOfBounds:
		return "out_of_bounds"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusFailed, StatusDone, StatusTerminated, StatusOutOfBounds} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown recording status %q", s)
}

// Result is delivered once per recording. The buffers are borrowed from the
// Session: they are valid during the callback and until the next Start.
// Consumers that keep data longer must Clone.
type Result struct {
	ID        string
	Status    Status
	StartedAt time.Time
	Accel     *timeseries.Buffer
	Gyro      *timeseries.Buffer
	Rotation  *timeseries.Buffer
	// Gravity is the smoothed accelerometer reading from the listening phase,
	// in the device frame.
	Gravity [3]float32
}

// Clone deep-copies the buffers so the result outlives the Session's next
// recording.
func (r Result) Clone() Result {
	c := r
	c.Accel = r.Accel.Clone()
	c.Gyro = r.Gyro.Clone()
	c.Rotation = r.Rotation.Clone()
	return c
}

// Consumer receives recording results on the Session's Run goroutine.
type Consumer interface {
	OnRecordingResult(Result)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(Result)

func (f ConsumerFunc) OnRecordingResult(r Result) { f(r) }

type commandKind int

const (
	cmdListen commandKind = iota
	cmdStart
	cmdStop
	cmdState
)

type command struct {
	kind  commandKind
	reply chan reply
}

type reply struct {
	state State
	err   error
}

// Session is a recording state machine over the three motion streams.
type Session struct {
	cfg      Config
	source   sensor.Source
	clock    timeutil.Clock
	consumer Consumer

	commands chan command
	done     chan struct{}

	// Owned by the Run goroutine.
	state     State
	id        string
	startedAt time.Time
	buffers   [3]*timeseries.Buffer
	subIDs    [3]string
	events    [3]<-chan sensor.Event
	timer     timeutil.Timer
	deadline  <-chan time.Time
	gravity   [3]float32
}

// New validates cfg, checks that the source offers every stream, and
// allocates the buffers. It fails with sensor.ErrUnavailable before any
// subscription is made if a stream is missing.
func New(cfg Config, source sensor.Source, clock timeutil.Clock, consumer Consumer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, s := range sensor.Streams {
		if !source.Available(s) {
			return nil, fmt.Errorf("%s: %w", s, sensor.ErrUnavailable)
		}
	}
	if consumer == nil {
		consumer = ConsumerFunc(func(Result) {})
	}

	capacity := Capacity(cfg)
	s := &Session{
		cfg:      cfg,
		source:   source,
		clock:    clock,
		consumer: consumer,
		commands: make(chan command),
		done:     make(chan struct{}),
	}
	for i, st := range sensor.Streams {
		s.buffers[i] = timeseries.New(capacity, st.Width())
	}
	logf("allocated %d samples per stream (%v at %v)", capacity, cfg.Duration, cfg.SamplingInterval)
	return s, nil
}

// Config returns the configuration the session was built with.
func (s *Session) Config() Config { return s.cfg }

// Run processes events and commands until ctx ends. Any subscriptions are
// dropped on return; a recording in progress ends without a result.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.release()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-s.commands:
			cmd.reply <- s.handle(cmd.kind)

		case <-s.deadline:
			s.finish(StatusDone)

		case ev, ok := <-s.events[0]:
			s.receive(0, ev, ok)
		case ev, ok := <-s.events[1]:
			s.receive(1, ev, ok)
		case ev, ok := <-s.events[2]:
			s.receive(2, ev, ok)
		}
	}
}

// Listen subscribes to all streams ahead of a recording so that the gravity
// estimate can settle.
func (s *Session) Listen(ctx context.Context) error {
	_, err := s.do(ctx, cmdListen)
	return err
}

// Start begins a recording: the buffers are reset and the deadline armed.
func (s *Session) Start(ctx context.Context) error {
	_, err := s.do(ctx, cmdStart)
	return err
}

// Stop ends a recording with StatusTerminated, delivering the Result before
// Stop returns. While listening it drops the subscriptions instead.
func (s *Session) Stop(ctx context.Context) error {
	_, err := s.do(ctx, cmdStop)
	return err
}

// State reports the current lifecycle state.
func (s *Session) State(ctx context.Context) (State, error) {
	return s.do(ctx, cmdState)
}

func (s *Session) do(ctx context.Context, kind commandKind) (State, error) {
	cmd := command{kind: kind, reply: make(chan reply, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return StateIdle, ErrClosed
	case <-ctx.Done():
		return StateIdle, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.state, r.err
	case <-ctx.Done():
		return StateIdle, ctx.Err()
	}
}

func (s *Session) handle(kind commandKind) reply {
	var err error
	switch kind {
	case cmdListen:
		err = s.listen()
	case cmdStart:
		err = s.start()
	case cmdStop:
		s.stop()
	}
	return reply{state: s.state, err: err}
}

func (s *Session) listen() error {
	switch s.state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateListening:
		return nil
	}
	if err := s.subscribe(); err != nil {
		return err
	}
	s.gravity = [3]float32{}
	s.state = StateListening
	logf("listening")
	return nil
}

func (s *Session) start() error {
	switch s.state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateIdle, StateTerminated:
		if err := s.subscribe(); err != nil {
			return err
		}
		// No listening phase, so no gravity estimate.
		s.gravity = [3]float32{}
	}

	for _, b := range s.buffers {
		b.Reset()
	}
	s.id = uuid.NewString()
	s.startedAt = s.clock.Now()
	s.timer = s.clock.NewTimer(s.cfg.Duration)
	s.deadline = s.timer.C()
	s.state = StateRecording
	logf("recording %s started for %v", s.id, s.cfg.Duration)
	return nil
}

func (s *Session) stop() {
	switch s.state {
	case StateRecording:
		s.finish(StatusTerminated)
	case StateListening:
		s.unsubscribe()
		s.state = StateIdle
		logf("stopped listening")
	}
}

func (s *Session) receive(i int, ev sensor.Event, ok bool) {
	if !ok {
		// The source ended the stream.
		s.events[i] = nil
		s.subIDs[i] = ""
		switch s.state {
		case StateRecording:
			logf("%s stream closed during recording %s", sensor.Streams[i], s.id)
			s.finish(StatusFailed)
		case StateListening:
			logf("%s stream closed while listening", sensor.Streams[i])
			s.unsubscribe()
			s.state = StateIdle
		}
		return
	}

	switch s.state {
	case StateListening:
		if ev.Stream == sensor.Accelerometer {
			a := s.cfg.GravityAlpha
			for k := 0; k < 3; k++ {
				s.gravity[k] = a*s.gravity[k] + (1-a)*ev.Values[k]
			}
		}
	case StateRecording:
		if err := s.buffers[i].Append(ev.Timestamp, ev.Values[:]); err != nil {
			logf("%s buffer full after %d samples", sensor.Streams[i], s.buffers[i].Len())
			s.finish(StatusOutOfBounds)
		}
	}
}

// finish ends a recording: cancel the deadline, drop every subscription, then
// hand the result to the consumer.
func (s *Session) finish(status Status) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = nil
	s.unsubscribe()
	s.state = StateTerminated

	logf("recording %s %s: %d accel, %d gyro, %d rotation samples", s.id, status,
		s.buffers[0].Len(), s.buffers[1].Len(), s.buffers[2].Len())
	s.consumer.OnRecordingResult(Result{
		ID:        s.id,
		Status:    status,
		StartedAt: s.startedAt,
		Accel:     s.buffers[0],
		Gyro:      s.buffers[1],
		Rotation:  s.buffers[2],
		Gravity:   s.gravity,
	})
}

func (s *Session) subscribe() error {
	for i, st := range sensor.Streams {
		id, events, err := s.source.Subscribe(st, s.cfg.SamplingInterval)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", st, err)
		}
		s.subIDs[i] = id
		s.events[i] = events
	}
	return nil
}

func (s *Session) unsubscribe() {
	for i := range s.subIDs {
		if s.subIDs[i] != "" {
			s.source.Unsubscribe(s.subIDs[i])
		}
		s.subIDs[i] = ""
		s.events[i] = nil
	}
}

func (s *Session) release() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = nil
	s.unsubscribe()
	s.state = StateIdle
}
