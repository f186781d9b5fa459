package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLine decodes one IMU sample line of the form
//
//	tag,timestamp_ns,v0,v1,v2[,v3]
//
// where tag is a Stream name. Rotation vectors may omit v3.
func ParseLine(line string) (Event, error) {
	var ev Event
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 5 {
		return ev, fmt.Errorf("sample line %q: want at least 5 fields, got %d", line, len(fields))
	}

	stream, err := ParseStream(fields[0])
	if err != nil {
		return ev, fmt.Errorf("sample line %q: %w", line, err)
	}
	ev.Stream = stream

	want := 2 + stream.Width()
	if stream == RotationVector && len(fields) == 5 {
		want = 5
	}
	if len(fields) != want {
		return ev, fmt.Errorf("sample line %q: %s wants %d values, got %d", line, stream, stream.Width(), len(fields)-2)
	}

	ev.Timestamp, err = strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return ev, fmt.Errorf("sample line %q: timestamp: %w", line, err)
	}
	for i, f := range fields[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return ev, fmt.Errorf("sample line %q: value %d: %w", line, i, err)
		}
		ev.Values[i] = float32(v)
	}
	return ev, nil
}

// FormatLine encodes an event in the form ParseLine reads.
func FormatLine(ev Event) string {
	var sb strings.Builder
	sb.WriteString(ev.Stream.String())
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(ev.Timestamp, 10))
	for _, v := range ev.Vector() {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return sb.String()
}
