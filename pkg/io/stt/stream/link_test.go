package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, 30*time.Second, tt.n); got != tt.want {
			t.Errorf("Backoff(n=%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close()
	}))
	defer srv.Close()

	l := New(Config{
		URL:         wsURL(srv),
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		StableAfter: time.Hour,
	}, nil)

	var mu sync.Mutex
	var delays []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Run(ctx); !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("Run() = %v, want ErrRetryBudgetExhausted", err)
	}
	// one initial dial plus five reconnects, no sixth reconnect
	if got := dials.Load(); got != 6 {
		t.Errorf("dials = %d, want 6", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, delays[i], want[i])
		}
	}
	if l.Connected() {
		t.Error("link reports connected after giving up")
	}
}

func TestStableConnectionRestoresBudget(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
		_ = c.Close()
	}))
	defer srv.Close()

	l := New(Config{
		URL:         wsURL(srv),
		MaxAttempts: 2,
		StableAfter: time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if d != time.Second {
			t.Errorf("delay after stable connection = %s, want base delay", d)
		}
		if dials.Load() >= 6 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestForwardsAudioAndSurfacesTranscripts(t *testing.T) {
	type received struct {
		mt   int
		data []byte
	}
	frames := make(chan received, 16)
	queries := make(chan string, 1)
	auth := make(chan string, 1)
	serverConn := make(chan *websocket.Conn, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn <- c
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			frames <- received{mt, data}
		}
	}))
	defer srv.Close()

	l := New(Config{
		URL:        wsURL(srv) + "/v1/listen?model=nova",
		APIKey:     "secret",
		SampleRate: 16000,
		Encoding:   "linear16",
		Channels:   1,
		KeepAlive:  time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "connected", l.Connected)

	q := <-queries
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "channels=1", "model=nova"} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %s", q, want)
		}
	}
	if got := <-auth; got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	l.SendAudio(pcm)
	select {
	case f := <-frames:
		if f.mt != websocket.BinaryMessage || !bytes.Equal(f.data, pcm) {
			t.Errorf("backend got %d %v, want binary %v", f.mt, f.data, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("audio frame not forwarded")
	}

	l.EndUtterance()
	select {
	case f := <-frames:
		if f.mt != websocket.TextMessage || string(f.data) != `{"type":"Finalize"}` {
			t.Errorf("flush message = %q", f.data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("flush message not sent")
	}

	c := <-serverConn
	msgs := []string{
		`{"type":"Metadata","request_id":"x"}`,
		`{"type":"Results","channel":{"alternatives":[{"transcript":"hel"}]},"is_final":false}`,
		`{"type":"Error","description":"rate limited"}`,
		`{"type":"Results","channel":{"alternatives":[{"transcript":"hello vera"}]},"is_final":true}`,
	}
	for _, m := range msgs {
		if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}

	want := []Transcript{{Text: "hel", IsFinal: false}, {Text: "hello vera", IsFinal: true}}
	for i, w := range want {
		select {
		case got := <-l.Transcripts():
			if got != w {
				t.Errorf("transcript %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("transcript %d not delivered", i)
		}
	}
}

func TestKeepAliveWhileConnected(t *testing.T) {
	got := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			select {
			case got <- string(data):
			default:
			}
		}
	}))
	defer srv.Close()

	l := New(Config{URL: wsURL(srv), KeepAlive: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case m := <-got:
		if m != `{"type":"KeepAlive"}` {
			t.Errorf("keepalive = %q", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no keepalive sent")
	}
}

func TestAudioDroppedWhileDisconnected(t *testing.T) {
	l := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	l.SendAudio([]byte{1, 2, 3})
	l.EndUtterance()
	if n := l.ring.Frames(); n != 0 {
		t.Fatalf("ring holds %d frames while disconnected", n)
	}
}

func TestParseTranscript(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Transcript
		ok   bool
	}{
		{"text", `{"text":"hi","is_final":true}`, Transcript{"hi", true}, true},
		{"transcript camel final", `{"transcript":"yo","isFinal":true}`, Transcript{"yo", true}, true},
		{"nested", `{"channel":{"alternatives":[{"transcript":"deep"}]},"speech_final":true}`, Transcript{"deep", true}, true},
		{"is_final wins", `{"text":"a","is_final":false,"speech_final":true}`, Transcript{"a", false}, true},
		{"no final flag", `{"text":"partial"}`, Transcript{"partial", false}, true},
		{"empty transcript", `{"channel":{"alternatives":[{"transcript":""}]}}`, Transcript{}, false},
		{"no text", `{"type":"UtteranceEnd"}`, Transcript{}, false},
		{"malformed", `not json`, Transcript{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTranscript([]byte(tt.in))
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseTranscript(%s) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
