package gateway

import (
	"strconv"
	"strings"
)

// Frame types on the gateway socket.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Methods and events used by the bridge.
const (
	MethodConnect     = "connect"
	MethodMessageSend = "message.send"

	EventChallenge = "connect.challenge"
)

const (
	assertionVersion = "v2"
	assertionSep     = "|"
	protocolVersion  = 3
)

// Assertion is the signed connect payload. Field order is part of the wire
// contract: the gateway rebuilds the same string and verifies the signature
// over its exact bytes.
type Assertion struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	Nonce      string
}

// Payload renders the assertion as
// v2|deviceId|clientId|clientMode|role|scopes|signedAtMs|token|nonce.
func (a Assertion) Payload() string {
	return strings.Join([]string{
		assertionVersion,
		a.DeviceID,
		a.ClientID,
		a.ClientMode,
		a.Role,
		strings.Join(a.Scopes, ","),
		strconv.FormatInt(a.SignedAtMs, 10),
		a.Token,
		a.Nonce,
	}, assertionSep)
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type connectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      clientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Auth        authInfo    `json:"auth"`
	Device      deviceBlock `json:"device"`
}

type clientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type authInfo struct {
	Token       string `json:"token"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

type deviceBlock struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

type messageParams struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}
