package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/xpanvictor/vera/pkg/Logger"
	"github.com/xpanvictor/vera/pkg/io/device"
)

// ConnectionManager tracks the attached client endpoints and fans events out
// to all of them.
type ConnectionManager struct {
	logger    *Logger.Logger
	endpoints map[device.EndpointID]device.Endpoint
	mutex     sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(logger *Logger.Logger) *ConnectionManager {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &ConnectionManager{
		logger:    logger,
		endpoints: make(map[device.EndpointID]device.Endpoint),
	}
}

// RegisterConnection adds an endpoint to the broadcast set
func (cm *ConnectionManager) RegisterConnection(ep device.Endpoint) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.endpoints[ep.ID()] = ep
	cm.logger.Infof("Registered client %s (%d connected)", ep.ID(), len(cm.endpoints))
}

// UnregisterConnection removes and closes an endpoint
func (cm *ConnectionManager) UnregisterConnection(id device.EndpointID) {
	cm.mutex.Lock()
	ep, exists := cm.endpoints[id]
	delete(cm.endpoints, id)
	remaining := len(cm.endpoints)
	cm.mutex.Unlock()

	if !exists {
		return
	}
	if err := ep.Close(); err != nil {
		cm.logger.Debugf("Error closing client %s: %v", id, err)
	}
	cm.logger.Infof("Unregistered client %s (%d connected)", id, remaining)
}

// Count returns the number of registered endpoints
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.endpoints)
}

func (cm *ConnectionManager) snapshot() []device.Endpoint {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	eps := make([]device.Endpoint, 0, len(cm.endpoints))
	for _, ep := range cm.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// BroadcastJSON encodes v once and sends it to every open endpoint. It returns
// the number of endpoints that accepted the write.
func (cm *ConnectionManager) BroadcastJSON(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		cm.logger.Errorf("Failed to encode broadcast: %v", err)
		return 0
	}
	return cm.broadcast(func(ep device.Endpoint) error { return ep.SendText(data) })
}

// BroadcastBinary sends one audio frame to every open endpoint
func (cm *ConnectionManager) BroadcastBinary(frame []byte) int {
	return cm.broadcast(func(ep device.Endpoint) error { return ep.SendAudioFrame(frame) })
}

func (cm *ConnectionManager) broadcast(send func(device.Endpoint) error) int {
	delivered := 0
	// Send to all endpoints without holding the lock
	for _, ep := range cm.snapshot() {
		if !ep.IsAlive() {
			continue
		}
		if err := send(ep); err != nil {
			cm.logger.Debugf("Skipping client %s: %v", ep.ID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// Close closes every endpoint
func (cm *ConnectionManager) Close() error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for id, ep := range cm.endpoints {
		if err := ep.Close(); err != nil {
			cm.logger.Debugf("Error closing client %s: %v", id, err)
		}
	}
	cm.endpoints = make(map[device.EndpointID]device.Endpoint)

	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(cm.endpoints))
	for id, ep := range cm.endpoints {
		clients = append(clients, map[string]interface{}{
			"id":           id.String(),
			"transport":    ep.Transport(),
			"connected_at": ep.ConnectedAt().Format(time.RFC3339),
			"last_active":  ep.LastActive().Format(time.RFC3339),
			"is_alive":     ep.IsAlive(),
		})
	}
	return map[string]interface{}{
		"active_clients": len(cm.endpoints),
		"clients":        clients,
	}
}
