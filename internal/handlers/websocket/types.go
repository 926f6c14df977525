package websocket

// MessageType defines the type of client WebSocket message
type MessageType string

const (
	MessageTypeChat      MessageType = "chat"
	MessageTypeEndSpeech MessageType = "end_speech"
	MessageTypeError     MessageType = "error"
)

// ClientMessage is a text frame sent by the client. Binary frames carry raw
// PCM and never pass through this type.
type ClientMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// ErrorMessage tells a client its frame was rejected
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}
