package orchestrator

// Event types sent to clients.
const (
	TypeTranscript    = "transcript"
	TypeResponse      = "vera_response"
	TypeSpeakingStart = "speaking_start"
	TypeSpeakingEnd   = "speaking_end"
	TypeCall          = "call"
)

type TranscriptMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type ResponseMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type CallMessage struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// SignalMessage carries no payload beyond its type.
type SignalMessage struct {
	Type string `json:"type"`
}
