package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommand_AppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("ACC=5000"))
	require.NoError(t, mux.SendCommand("GYR=5000\n"))
	assert.Equal(t, "ACC=5000\nGYR=5000\n", port.Written())
}

func TestSendCommand_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("boom")
	mux := NewSerialMux(port)

	assert.EqualError(t, mux.SendCommand("RST"), "boom")
}

func TestInitialize_SelectsCSVOutput(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize())
	written := port.Written()
	assert.True(t, strings.HasPrefix(written, "CLK="))
	assert.Contains(t, written, "FMT=CSV\n")
	assert.Contains(t, written, "TS=NS\n")
	assert.Contains(t, written, "ALL=OFF\n")
}

func TestMonitor_FansOutToSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData("accel,1,0,0,9.8\ngyro,1,0,0,0\n")
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))

	for _, ch := range []chan string{a, b} {
		assert.Equal(t, "accel,1,0,0,9.8", <-ch)
		assert.Equal(t, "gyro,1,0,0,0", <-ch)
	}
}

func TestMonitor_DropsForFullSubscriber(t *testing.T) {
	port := NewTestableSerialPort()
	var sb strings.Builder
	for i := 0; i < subscriberDepth+10; i++ {
		sb.WriteString("accel,1,0,0,0\n")
	}
	port.AddReadData(sb.String())
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Len(t, ch, subscriberDepth)
	assert.Equal(t, uint64(10), mux.Dropped())
}

func TestMonitor_StopsOnContext(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	require.NoError(t, mux.Close())
}

func TestUnsubscribeAndClose_CloseChannels(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	mux.Unsubscribe(id)

	_, ch2 := mux.Subscribe()
	require.NoError(t, mux.Close())
	_, ok = <-ch2
	assert.False(t, ok)
	assert.True(t, port.Closed)
}

func TestClassifyLine(t *testing.T) {
	tests := map[string]string{
		"":                          LineTypeEmpty,
		"   ":                       LineTypeEmpty,
		"# ok ACC=5000":             LineTypeStatus,
		"accel,123,0.1,0.2,9.8":     LineTypeSample,
		"rotation,1,0,0,0,1":        LineTypeSample,
		"12,34,56":                  LineTypeUnknown,
		"garbage":                   LineTypeUnknown,
		`{"firmware":"1.2"}`:        LineTypeUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, ClassifyLine(line), "line %q", line)
	}
}

func TestRestamp(t *testing.T) {
	assert.Equal(t, "gyro,99,1,2,3", restamp("gyro,5,1,2,3", 99))
	assert.Equal(t, "bad", restamp("bad", 99))
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
}

func TestAdminRoutes_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"ACC=2500"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ACC=2500\n", port.Written())

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	var _ SerialMuxInterface = d

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, ok = <-ch
	assert.False(t, ok)

	// Subscribing after Close yields an already closed channel.
	_, ch = d.Subscribe()
	_, ok = <-ch
	assert.False(t, ok)
}

func TestMockSerialMux_ReplaysRestampedLines(t *testing.T) {
	mux := NewMockSerialMux([]string{"accel,0,0,0,9.8", "# status"}, time.Millisecond)
	var _ SerialMuxInterface = mux
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	var sample string
	for sample == "" {
		select {
		case line := <-ch:
			if ClassifyLine(line) == LineTypeSample {
				sample = line
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no replayed line")
		}
	}
	assert.True(t, strings.HasPrefix(sample, "accel,"))
	assert.True(t, strings.HasSuffix(sample, ",0,0,9.8"))
	assert.NotEqual(t, "accel,0,0,0,9.8", sample)

	require.NoError(t, mux.SendCommand("ACC=5000"))
	assert.Contains(t, mux.port.Commands(), "ACC=5000")
}
