package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/serialmux"
)

// eventDepth buffers about a second of one stream at the default rate.
const eventDepth = 256

var logf = monitoring.Prefixed("sensor")

// rateCommand is the device command that sets a stream's sampling interval
// in microseconds, or disables it with "OFF".
var rateCommand = map[Stream]string{
	Accelerometer:  "ACC",
	Gyroscope:      "GYR",
	RotationVector: "ROT",
}

type subscription struct {
	stream Stream
	ch     chan Event
}

// MuxSource turns the lines of an IMU serial mux into per-stream events.
// One goroutine reads the mux while at least one stream is subscribed.
type MuxSource struct {
	mux     serialmux.SerialMuxInterface
	offered map[Stream]bool

	mu      sync.Mutex
	subs    map[string]*subscription
	muxID   string
	gen     int
	running bool

	parseErrors uint64
	dropped     uint64
}

// NewMuxSource wraps mux. streams lists what the attached device provides;
// anything else reports unavailable.
func NewMuxSource(mux serialmux.SerialMuxInterface, streams ...Stream) *MuxSource {
	offered := make(map[Stream]bool, len(streams))
	for _, s := range streams {
		offered[s] = true
	}
	return &MuxSource{
		mux:     mux,
		offered: offered,
		subs:    make(map[string]*subscription),
	}
}

func (s *MuxSource) Available(stream Stream) bool { return s.offered[stream] }

func (s *MuxSource) Subscribe(stream Stream, interval time.Duration) (string, <-chan Event, error) {
	if !s.Available(stream) {
		return "", nil, fmt.Errorf("subscribe %s: %w", stream, ErrUnavailable)
	}
	cmd := fmt.Sprintf("%s=%d", rateCommand[stream], interval.Microseconds())
	if err := s.mux.SendCommand(cmd); err != nil {
		return "", nil, fmt.Errorf("subscribe %s: %w", stream, err)
	}

	id := uuid.NewString()
	sub := &subscription{stream: stream, ch: make(chan Event, eventDepth)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = sub
	if !s.running {
		s.running = true
		s.gen++
		var lines chan string
		s.muxID, lines = s.mux.Subscribe()
		go s.pump(s.gen, lines)
	}
	return id, sub.ch, nil
}

func (s *MuxSource) Unsubscribe(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)
	close(sub.ch)

	streamInUse := false
	for _, other := range s.subs {
		if other.stream == sub.stream {
			streamInUse = true
		}
	}
	var muxID string
	if len(s.subs) == 0 && s.running {
		s.running = false
		muxID = s.muxID
	}
	s.mu.Unlock()

	if !streamInUse {
		if err := s.mux.SendCommand(rateCommand[sub.stream] + "=OFF"); err != nil {
			logf("failed to disable %s: %v", sub.stream, err)
		}
	}
	if muxID != "" {
		s.mux.Unsubscribe(muxID)
	}
}

// Stats returns the number of unparseable sample lines and of events dropped
// because a subscriber was full.
func (s *MuxSource) Stats() (parseErrors, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseErrors, s.dropped
}

func (s *MuxSource) pump(gen int, lines <-chan string) {
	for line := range lines {
		switch serialmux.ClassifyLine(line) {
		case serialmux.LineTypeSample:
		case serialmux.LineTypeStatus:
			logf("device: %s", line)
			continue
		default:
			continue
		}

		ev, err := ParseLine(line)
		s.mu.Lock()
		if err != nil {
			s.parseErrors++
			s.mu.Unlock()
			continue
		}
		for _, sub := range s.subs {
			if sub.stream != ev.Stream {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				s.dropped++
			}
		}
		s.mu.Unlock()
	}

	// The mux closed our line channel. If this pump is still current the mux
	// itself shut down, so every subscriber ends too.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || !s.running {
		return
	}
	s.running = false
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}
