package audioring

import (
	"bytes"
	"testing"
	"time"
)

func TestFrameRing(t *testing.T) {
	ring := New(1024)

	if ring.Capacity() != 1024 {
		t.Errorf("Expected capacity 1024, got %d", ring.Capacity())
	}
	if ring.Len() != 0 || ring.Frames() != 0 {
		t.Errorf("Expected empty ring, got %d bytes / %d frames", ring.Len(), ring.Frames())
	}

	frame := Frame{Data: []byte{1, 2, 3, 4, 5}, Timestamp: time.Now()}
	if err := ring.Enqueue(frame); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if ring.Frames() != 1 {
		t.Errorf("Expected 1 frame, got %d", ring.Frames())
	}

	select {
	case <-ring.Ready():
	default:
		t.Error("Ready not signalled after enqueue")
	}

	got, ok := ring.Dequeue()
	if !ok {
		t.Fatal("Failed to dequeue")
	}
	if !bytes.Equal(got.Data, frame.Data) {
		t.Errorf("Data mismatch: expected %v, got %v", frame.Data, got.Data)
	}
	if !got.Timestamp.Equal(time.Unix(0, frame.Timestamp.UnixNano())) {
		t.Errorf("Timestamp mismatch: %v vs %v", got.Timestamp, frame.Timestamp)
	}
	if _, ok := ring.Dequeue(); ok {
		t.Error("Dequeue on empty ring returned a frame")
	}
}

func TestFrameRingPreservesOrder(t *testing.T) {
	ring := New(1024)
	for i := 0; i < 3; i++ {
		if err := ring.Enqueue(Frame{Data: []byte{byte(i), byte(i + 1)}}); err != nil {
			t.Fatalf("Failed to enqueue item %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		f, ok := ring.Dequeue()
		if !ok {
			t.Fatalf("Missing frame %d", i)
		}
		if f.Data[0] != byte(i) {
			t.Errorf("Frame %d out of order: %v", i, f.Data)
		}
	}
}

func TestFrameRingEvictsOldest(t *testing.T) {
	// each record is 4 + 12 + 16 = 32 bytes, so 3 fit in 100
	ring := New(100)
	for i := 0; i < 5; i++ {
		if err := ring.Enqueue(Frame{Data: bytes.Repeat([]byte{byte(i)}, 16)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if ring.Frames() != 3 {
		t.Fatalf("Expected 3 frames after overflow, got %d", ring.Frames())
	}
	if ring.Dropped() != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", ring.Dropped())
	}
	f, _ := ring.Dequeue()
	if f.Data[0] != 2 {
		t.Errorf("Expected oldest surviving frame 2, got %d", f.Data[0])
	}
}

func TestFrameRingRejectsOversizedFrame(t *testing.T) {
	ring := New(32)
	if err := ring.Enqueue(Frame{Data: make([]byte, 64)}); err != ErrFrameTooLarge {
		t.Fatalf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameRingReset(t *testing.T) {
	ring := New(1024)
	_ = ring.Enqueue(Frame{Data: []byte{9}})
	ring.Reset()
	if ring.Len() != 0 || ring.Frames() != 0 {
		t.Errorf("Reset left %d bytes / %d frames", ring.Len(), ring.Frames())
	}
	select {
	case <-ring.Ready():
		t.Error("Ready still signalled after reset")
	default:
	}
}

func TestFrameSerialization(t *testing.T) {
	original := Frame{Data: []byte{10, 20, 30, 40, 50}, Timestamp: time.Now()}
	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var restored Frame
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if !bytes.Equal(restored.Data, original.Data) {
		t.Errorf("Data mismatch: %v vs %v", restored.Data, original.Data)
	}
	if err := restored.UnmarshalBinary(data[:5]); err == nil {
		t.Error("Expected error on short header")
	}
}
