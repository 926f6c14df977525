package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/vera/pkg/io/device"
)

type fakeEndpoint struct {
	id    device.EndpointID
	mu    sync.Mutex
	alive bool
	fail  bool
	text  [][]byte
	audio [][]byte
}

func newFakeEndpoint(alive bool) *fakeEndpoint {
	return &fakeEndpoint{id: device.EndpointID(uuid.New()), alive: alive}
}

func (f *fakeEndpoint) ID() device.EndpointID       { return f.id }
func (f *fakeEndpoint) Transport() device.Transport { return device.TransportWS }
func (f *fakeEndpoint) Touch()                      {}
func (f *fakeEndpoint) ConnectedAt() time.Time      { return time.Time{} }
func (f *fakeEndpoint) LastActive() time.Time       { return time.Time{} }

func (f *fakeEndpoint) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) SendText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.text = append(f.text, data)
	return nil
}

func (f *fakeEndpoint) SendAudioFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.audio = append(f.audio, frame)
	return nil
}

func (f *fakeEndpoint) received() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.text), len(f.audio)
}

func TestBroadcastSkipsClosedEndpoints(t *testing.T) {
	cm := NewConnectionManager(nil)
	open := []*fakeEndpoint{newFakeEndpoint(true), newFakeEndpoint(true), newFakeEndpoint(true)}
	closed := newFakeEndpoint(false)
	for _, ep := range open {
		cm.RegisterConnection(ep)
	}
	cm.RegisterConnection(closed)

	if n := cm.BroadcastJSON(map[string]string{"type": "speaking_start"}); n != 3 {
		t.Errorf("BroadcastJSON delivered to %d, want 3", n)
	}
	if n := cm.BroadcastBinary([]byte{1, 2, 3}); n != 3 {
		t.Errorf("BroadcastBinary delivered to %d, want 3", n)
	}

	for i, ep := range open {
		text, audio := ep.received()
		if text != 1 || audio != 1 {
			t.Errorf("client %d got %d text / %d audio frames", i, text, audio)
		}
		if string(ep.text[0]) != `{"type":"speaking_start"}` {
			t.Errorf("client %d payload = %s", i, ep.text[0])
		}
	}
	if text, audio := closed.received(); text != 0 || audio != 0 {
		t.Errorf("closed client received %d text / %d audio frames", text, audio)
	}
}

func TestBroadcastToleratesFailingEndpoint(t *testing.T) {
	cm := NewConnectionManager(nil)
	good := newFakeEndpoint(true)
	bad := newFakeEndpoint(true)
	bad.fail = true
	cm.RegisterConnection(good)
	cm.RegisterConnection(bad)

	if n := cm.BroadcastJSON(struct {
		Type string `json:"type"`
	}{"speaking_end"}); n != 1 {
		t.Errorf("delivered to %d, want 1", n)
	}
}

func TestRegisterUnregister(t *testing.T) {
	cm := NewConnectionManager(nil)
	a, b := newFakeEndpoint(true), newFakeEndpoint(true)
	cm.RegisterConnection(a)
	cm.RegisterConnection(b)
	if cm.Count() != 2 {
		t.Fatalf("Count() = %d", cm.Count())
	}

	cm.UnregisterConnection(a.ID())
	cm.UnregisterConnection(a.ID())
	if cm.Count() != 1 {
		t.Fatalf("Count() after unregister = %d", cm.Count())
	}
	if a.IsAlive() {
		t.Error("unregistered endpoint not closed")
	}

	stats := cm.GetStats()
	if stats["active_clients"] != 1 {
		t.Errorf("stats = %v", stats)
	}

	_ = cm.Close()
	if cm.Count() != 0 || b.IsAlive() {
		t.Error("Close() left endpoints open")
	}
}

func TestBroadcastConcurrentWithMembershipChanges(t *testing.T) {
	cm := NewConnectionManager(nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				ep := newFakeEndpoint(true)
				cm.RegisterConnection(ep)
				cm.UnregisterConnection(ep.ID())
			}
		}
	}()
	for i := 0; i < 200; i++ {
		cm.BroadcastBinary([]byte{byte(i)})
	}
	close(stop)
	wg.Wait()
}
