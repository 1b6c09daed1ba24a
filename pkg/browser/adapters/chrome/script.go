package chrome

import (
	_ "embed"
	"encoding/json"
	"strings"
)

const (
	// LineBinding receives each event-stream data payload.
	LineBinding = "__spinRelayLine"
	// DoneBinding receives the end-of-stream marker.
	DoneBinding = "__spinRelayDone"
)

//go:embed interceptor.js
var interceptorSource string

// InterceptorScript renders the fetch interceptor for responses whose URL
// contains marker.
func InterceptorScript(marker string) string {
	return strings.NewReplacer(
		"__SPIN_MARKER__", jsString(marker),
		"__SPIN_LINE_BINDING__", jsString(LineBinding),
		"__SPIN_DONE_BINDING__", jsString(DoneBinding),
	).Replace(interceptorSource)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
