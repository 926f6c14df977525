package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Lookup paths for transcript fields, first match wins.
var (
	TextPaths  = []string{"text", "transcript", "channel.alternatives.0.transcript"}
	FinalPaths = []string{"is_final", "isFinal", "speech_final"}
)

// ParseTranscript extracts a transcript from one backend message. Messages
// without text produce no transcript.
func ParseTranscript(data []byte) (Transcript, bool) {
	if !gjson.ValidBytes(data) {
		return Transcript{}, false
	}
	root := gjson.ParseBytes(data)

	var text string
	for _, p := range TextPaths {
		if v := root.Get(p); v.Type == gjson.String {
			text = strings.TrimSpace(v.String())
			break
		}
	}
	if text == "" {
		return Transcript{}, false
	}

	var final bool
	for _, p := range FinalPaths {
		if v := root.Get(p); v.Exists() {
			final = v.Bool()
			break
		}
	}
	return Transcript{Text: text, IsFinal: final}, true
}

func backendError(data []byte) string {
	t := gjson.GetBytes(data, "type").String()
	if !strings.EqualFold(t, "error") {
		return ""
	}
	for _, p := range []string{"description", "message", "error"} {
		if v := gjson.GetBytes(data, p); v.Exists() {
			return v.String()
		}
	}
	return "unknown error"
}
