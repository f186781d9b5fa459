package sensor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetic/internal/timeutil"
	"github.com/banshee-data/kinetic/internal/units"
)

// SyntheticSource generates a device resting flat and rocking about its
// vertical axis: the gyroscope reports the yaw rate, the rotation vector the
// yaw, and the accelerometer gravity plus a small lateral sway. Ticks come from
// the injected clock, so tests drive it with a MockClock.
type SyntheticSource struct {
	clock   timeutil.Clock
	start   time.Time
	offered map[Stream]bool

	// Amplitude (rad) and Period of the yaw oscillation.
	Amplitude float64
	Period    time.Duration

	mu   sync.Mutex
	subs map[string]chan struct{}
}

// NewSyntheticSource creates a source offering the given streams, or all of
// them when none are listed.
func NewSyntheticSource(clock timeutil.Clock, streams ...Stream) *SyntheticSource {
	if len(streams) == 0 {
		streams = Streams[:]
	}
	offered := make(map[Stream]bool, len(streams))
	for _, s := range streams {
		offered[s] = true
	}
	return &SyntheticSource{
		clock:     clock,
		start:     clock.Now(),
		offered:   offered,
		Amplitude: 0.5,
		Period:    2 * time.Second,
		subs:      make(map[string]chan struct{}),
	}
}

func (s *SyntheticSource) Available(stream Stream) bool { return s.offered[stream] }

func (s *SyntheticSource) Subscribe(stream Stream, interval time.Duration) (string, <-chan Event, error) {
	if !s.Available(stream) {
		return "", nil, fmt.Errorf("subscribe %s: %w", stream, ErrUnavailable)
	}
	if interval <= 0 {
		return "", nil, fmt.Errorf("subscribe %s: invalid interval %v", stream, interval)
	}

	id := uuid.NewString()
	stop := make(chan struct{})
	events := make(chan Event, eventDepth)
	ticker := s.clock.NewTicker(interval)

	s.mu.Lock()
	s.subs[id] = stop
	s.mu.Unlock()

	go func() {
		defer close(events)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C():
				ev := s.Sample(stream, now.Sub(s.start))
				select {
				case events <- ev:
				default:
				}
			}
		}
	}()
	return id, events, nil
}

func (s *SyntheticSource) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.subs[id]; ok {
		close(stop)
		delete(s.subs, id)
	}
}

// Sample computes the event a stream reports at elapsed time since the source
// started.
func (s *SyntheticSource) Sample(stream Stream, elapsed time.Duration) Event {
	omega := 2 * math.Pi / s.Period.Seconds()
	sec := elapsed.Seconds()
	yaw := s.Amplitude * math.Sin(omega*sec)
	rate := s.Amplitude * omega * math.Cos(omega*sec)
	sway := -s.Amplitude * omega * omega * math.Sin(omega*sec) * 0.1

	ev := Event{Stream: stream, Timestamp: elapsed.Nanoseconds()}
	switch stream {
	case Accelerometer:
		ev.Values = [4]float32{float32(sway), 0, units.StandardGravity}
	case Gyroscope:
		ev.Values = [4]float32{0, 0, float32(rate)}
	case RotationVector:
		half := yaw / 2
		ev.Values = [4]float32{0, 0, float32(math.Sin(half)), float32(math.Cos(half))}
	}
	return ev
}
