// Package stream keeps a single streaming connection to the transcription
// backend. Client audio is forwarded while connected and dropped otherwise;
// transcripts are surfaced on a channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xpanvictor/vera/pkg/Logger"
	audioring "github.com/xpanvictor/vera/pkg/io/stt/audioRing"
)

// ErrRetryBudgetExhausted is returned by Run after maxAttempts consecutive
// reconnects failed to produce a stable connection.
var ErrRetryBudgetExhausted = errors.New("stt: retry budget exhausted")

const writeWait = 5 * time.Second

type Config struct {
	URL        string
	APIKey     string
	AuthScheme string
	SampleRate int
	Encoding   string
	Channels   int

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	StableAfter time.Duration
	KeepAlive   time.Duration
	RingSize    int

	FinalizeMessage  string
	KeepAliveMessage string
}

func (c *Config) applyDefaults() {
	if c.AuthScheme == "" {
		c.AuthScheme = "Token"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 30 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 8 * time.Second
	}
	if c.RingSize <= 0 {
		c.RingSize = 256 * 1024
	}
	if c.FinalizeMessage == "" {
		c.FinalizeMessage = `{"type":"Finalize"}`
	}
	if c.KeepAliveMessage == "" {
		c.KeepAliveMessage = `{"type":"KeepAlive"}`
	}
}

type Transcript struct {
	Text    string
	IsFinal bool
}

type Link struct {
	cfg    Config
	logger *Logger.Logger
	dialer *websocket.Dialer
	ring   audioring.FrameRing

	transcripts chan Transcript
	connected   atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// sleep waits between reconnects; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, logger *Logger.Logger) *Link {
	cfg.applyDefaults()
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &Link{
		cfg:         cfg,
		logger:      logger,
		dialer:      websocket.DefaultDialer,
		ring:        audioring.New(cfg.RingSize),
		transcripts: make(chan Transcript, 64),
		sleep:       sleepCtx,
	}
}

func (l *Link) Transcripts() <-chan Transcript { return l.transcripts }

func (l *Link) Connected() bool { return l.connected.Load() }

// SendAudio queues one frame for the backend. Frames pushed while the link is
// down are discarded.
func (l *Link) SendAudio(frame []byte) {
	if !l.connected.Load() || len(frame) == 0 {
		return
	}
	data := make([]byte, len(frame))
	copy(data, frame)
	if err := l.ring.Enqueue(audioring.Frame{Data: data, Timestamp: time.Now()}); err != nil {
		l.logger.Warnf("dropping audio frame of %d bytes: %v", len(frame), err)
	}
}

// EndUtterance asks the backend to flush a final transcript for the audio
// received so far.
func (l *Link) EndUtterance() {
	if !l.connected.Load() {
		return
	}
	if err := l.write(websocket.TextMessage, []byte(l.cfg.FinalizeMessage)); err != nil {
		l.logger.Debugf("finalize not sent: %v", err)
	}
}

// Backoff returns the delay before reconnect attempt n (1-based).
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Run holds the connection open until ctx is cancelled or the retry budget is
// spent. The budget is restored once a connection stays up for StableAfter.
func (l *Link) Run(ctx context.Context) error {
	attempts := 0
	for {
		up, err := l.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if up >= l.cfg.StableAfter {
			attempts = 0
		}
		if attempts >= l.cfg.MaxAttempts {
			l.logger.Errorf("transcription unavailable after %d reconnect attempts: %v", attempts, err)
			return ErrRetryBudgetExhausted
		}
		attempts++
		delay := Backoff(l.cfg.BaseDelay, l.cfg.MaxDelay, attempts)
		l.logger.Warnf("transcription link down (%v); reconnect %d/%d in %s", err, attempts, l.cfg.MaxAttempts, delay)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *Link) endpoint() (string, error) {
	u, err := url.Parse(l.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stt url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", l.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(l.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(l.cfg.Channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runConnection dials once and serves the connection until it drops. It
// reports how long the connection was up.
func (l *Link) runConnection(ctx context.Context) (time.Duration, error) {
	endpoint, err := l.endpoint()
	if err != nil {
		return 0, err
	}
	header := http.Header{}
	if l.cfg.APIKey != "" {
		header.Set("Authorization", l.cfg.AuthScheme+" "+l.cfg.APIKey)
	}

	conn, _, err := l.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	start := time.Now()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.ring.Reset()
	l.connected.Store(true)
	l.logger.Infof("transcription link connected")

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.pump(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		l.keepAlive(connCtx)
	}()

	err = l.readLoop(connCtx, conn)

	l.connected.Store(false)
	cancel()
	_ = conn.Close()
	wg.Wait()

	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	l.ring.Reset()

	return time.Since(start), err
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		if msg := backendError(data); msg != "" {
			l.logger.Warnf("transcription backend error: %s", msg)
			continue
		}
		tr, ok := ParseTranscript(data)
		if !ok {
			continue
		}
		select {
		case l.transcripts <- tr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pump drains the frame ring onto the socket.
func (l *Link) pump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-l.ring.Ready():
		}
		for {
			f, ok := l.ring.Dequeue()
			if !ok {
				break
			}
			if err := l.write(websocket.BinaryMessage, f.Data); err != nil {
				l.logger.Debugf("audio write failed: %v", err)
				return
			}
		}
	}
}

func (l *Link) keepAlive(ctx context.Context) {
	t := time.NewTicker(l.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.write(websocket.TextMessage, []byte(l.cfg.KeepAliveMessage)); err != nil {
				return
			}
		}
	}
}

func (l *Link) write(mt int, data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("stt: not connected")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(mt, data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
