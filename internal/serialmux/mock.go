package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockSerialPort implements SerialPorter over an in-memory pipe. Commands
// written to it are kept for inspection.
type MockSerialPort struct {
	io.Reader
	mu       sync.Mutex
	commands []string
	closer   io.Closer
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Commands returns the commands written so far.
func (m *MockSerialPort) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *MockSerialPort) Close() error { return m.closer.Close() }

// NewMockSerialMux creates a SerialMux that replays fixture lines forever,
// one line every interval. Sample lines are restamped with the replay clock
// in nanoseconds so timestamps keep increasing across loops.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{Reader: r, closer: r}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			tick := <-ticker.C
			line := lines[i%len(lines)]
			if ClassifyLine(line) == LineTypeSample {
				line = restamp(line, tick.UnixNano())
			}
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(port)
}

// restamp replaces the timestamp field of a sample line.
func restamp(line string, ts int64) string {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 3 {
		return line
	}
	return fmt.Sprintf("%s,%d,%s", parts[0], ts, parts[2])
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	Closed     bool
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
	}
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.WriteString(data)
	t.readCond.Broadcast()
}

// Written returns everything written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.WriteBuffer.String()
}
