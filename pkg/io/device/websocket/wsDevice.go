package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/vera/pkg/io/device"
)

var ErrEndpointClosed = errors.New("endpoint closed")

const writeWait = 5 * time.Second

type wsEndpoint struct {
	id          uuid.UUID
	client      *websocket.Conn
	connectedAt time.Time

	mu         sync.Mutex
	alive      bool
	lastActive time.Time
}

// Close implements device.Endpoint.
func (w *wsEndpoint) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive = false
	return w.client.Close()
}

// ID implements device.Endpoint.
func (w *wsEndpoint) ID() device.EndpointID {
	return device.EndpointID(w.id)
}

func (w *wsEndpoint) Touch() {
	w.mu.Lock()
	w.lastActive = time.Now()
	w.mu.Unlock()
}

// IsAlive implements device.Endpoint.
func (w *wsEndpoint) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func (w *wsEndpoint) ConnectedAt() time.Time { return w.connectedAt }

// LastActive implements device.Endpoint.
func (w *wsEndpoint) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// SendAudioFrame implements device.Endpoint.
func (w *wsEndpoint) SendAudioFrame(frame []byte) error {
	return w.write(websocket.BinaryMessage, frame)
}

// SendText implements device.Endpoint.
func (w *wsEndpoint) SendText(data []byte) error {
	return w.write(websocket.TextMessage, data)
}

// write serialises frames on the socket; the first failure closes the endpoint.
func (w *wsEndpoint) write(mt int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return ErrEndpointClosed
	}
	_ = w.client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.client.WriteMessage(mt, data); err != nil {
		w.alive = false
		_ = w.client.Close()
		return err
	}
	return nil
}

// Transport implements device.Endpoint.
func (w *wsEndpoint) Transport() device.Transport {
	return device.TransportWS
}

func New(client *websocket.Conn) device.Endpoint {
	now := time.Now()
	return &wsEndpoint{
		id:          uuid.New(),
		client:      client,
		connectedAt: now,
		lastActive:  now,
		alive:       true,
	}
}
