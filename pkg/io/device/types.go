package device

import (
	"time"

	"github.com/google/uuid"
)

type Transport string

const (
	TransportWS Transport = "ws"
)

type EndpointID uuid.UUID

func (id EndpointID) String() string { return uuid.UUID(id).String() }

// Endpoint is one attached client connection. Writes are safe for concurrent
// use; a failed write marks the endpoint dead.
type Endpoint interface {
	// Identity
	ID() EndpointID
	Transport() Transport
	// outbound
	SendText(data []byte) error
	SendAudioFrame(frame []byte) error
	Touch()
	// lifecycle
	IsAlive() bool
	Close() error
	ConnectedAt() time.Time
	LastActive() time.Time
}
