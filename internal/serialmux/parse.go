package serialmux

import "strings"

const (
	LineTypeSample  = "sample"
	LineTypeStatus  = "status"
	LineTypeEmpty   = "empty"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects one device line and returns a coarse type token.
// Samples are "tag,timestamp,values..."; the firmware prefixes status and
// acknowledgement lines with '#'.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineTypeEmpty
	case strings.HasPrefix(line, "#"):
		return LineTypeStatus
	case strings.Count(line, ",") >= 2 && isTagStart(line[0]):
		return LineTypeSample
	default:
		return LineTypeUnknown
	}
}

func isTagStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
