// Package audioring holds client audio frames between the socket reader and
// the transcription writer. Frames are length-prefixed inside a fixed-size
// byte ring; when the ring is full the oldest frames are evicted.
package audioring

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

var ErrFrameTooLarge = errors.New("audio frame too large for buffer")

const (
	sizePrefix   = 4
	headerLength = 8 + 4 // timestamp + data length
)

type Frame struct {
	Data      []byte
	Timestamp time.Time
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	// timestamp(8) + dataLen(4) + data
	buf := make([]byte, headerLength+len(f.Data))
	binary.LittleEndian.PutUint64(buf[0:], uint64(f.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(f.Data)))
	copy(buf[headerLength:], f.Data)
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < headerLength {
		return errors.New("short frame header")
	}
	f.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[0:])))
	n := int(binary.LittleEndian.Uint32(data[8:]))
	if len(data[headerLength:]) < n {
		return errors.New("truncated frame data")
	}
	f.Data = make([]byte, n)
	copy(f.Data, data[headerLength:headerLength+n])
	return nil
}

type FrameRing interface {
	Enqueue(f Frame) error
	Dequeue() (Frame, bool)
	// Len is the number of buffered bytes including framing.
	Len() int
	Frames() int
	Capacity() int
	// Dropped counts frames evicted to make room.
	Dropped() uint64
	Reset()
	// Ready is signalled after every Enqueue.
	Ready() <-chan struct{}
}

type rbRing struct {
	mu      sync.Mutex
	size    int
	rb      *ringbuffer.RingBuffer
	frames  int
	dropped uint64
	ready   chan struct{}
}

func New(size int) FrameRing {
	return &rbRing{
		size:  size,
		rb:    ringbuffer.New(size).SetBlocking(false),
		ready: make(chan struct{}, 1),
	}
}

func (r *rbRing) Enqueue(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	required := len(data) + sizePrefix
	if required > r.rb.Capacity() {
		return ErrFrameTooLarge
	}

	r.mu.Lock()
	for r.rb.Free() < required {
		if !r.dropOldest() {
			// framing lost; start over
			r.rb.Reset()
			r.frames = 0
			break
		}
	}
	var prefix [sizePrefix]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := r.rb.Write(prefix[:]); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, err := r.rb.Write(data); err != nil {
		r.mu.Unlock()
		return err
	}
	r.frames++
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return nil
}

func (r *rbRing) Dequeue() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.next()
	if !ok {
		return Frame{}, false
	}
	var f Frame
	if err := f.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return f, true
}

// next reads one length-prefixed record. Caller holds mu.
func (r *rbRing) next() ([]byte, bool) {
	if r.rb.IsEmpty() {
		return nil, false
	}
	var prefix [sizePrefix]byte
	if n, err := r.rb.Read(prefix[:]); err != nil || n != sizePrefix {
		return nil, false
	}
	size := int(binary.LittleEndian.Uint32(prefix[:]))
	data := make([]byte, size)
	if n, err := r.rb.Read(data); err != nil || n != size {
		return nil, false
	}
	r.frames--
	return data, true
}

func (r *rbRing) dropOldest() bool {
	if _, ok := r.next(); !ok {
		return false
	}
	r.dropped++
	return true
}

func (r *rbRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rb.Length()
}

func (r *rbRing) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *rbRing) Capacity() int { return r.size }

func (r *rbRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *rbRing) Reset() {
	r.mu.Lock()
	r.rb.Reset()
	r.frames = 0
	r.mu.Unlock()
	select {
	case <-r.ready:
	default:
	}
}

func (r *rbRing) Ready() <-chan struct{} { return r.ready }
