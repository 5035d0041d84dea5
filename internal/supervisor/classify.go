package supervisor

import "strings"

// Category classifies a failure reported by the relay.
type Category string

const (
	ConnectionError Category = "connection_error"
	DeviceBusy      Category = "device_busy"
)

var connectionMarkers = []string{
	"connection refused",
	"timeout",
	"no route to host",
	"connection reset",
	"broken pipe",
	"end of file",
}

var deviceBusyMarkers = []string{
	"device or resource busy",
	"device busy",
}

// Classify maps a diagnostic line to a failure category. Matching is
// case-insensitive substring search; ok is false for ordinary output.
func Classify(line string) (category Category, ok bool) {
	lower := strings.ToLower(line)
	for _, m := range connectionMarkers {
		if strings.Contains(lower, m) {
			return ConnectionError, true
		}
	}
	for _, m := range deviceBusyMarkers {
		if strings.Contains(lower, m) {
			return DeviceBusy, true
		}
	}
	return "", false
}
