// Package stream synthesises one utterance per connection against a
// streaming text-to-speech backend.
package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/xpanvictor/vera/pkg/Logger"
)

type EventKind string

const (
	Started EventKind = "started"
	Audio   EventKind = "audio"
	Ended   EventKind = "ended"
)

// Event is emitted for every step of an utterance. Utterance ties the events of
// one Speak call together.
type Event struct {
	Kind      EventKind
	Utterance string
	Audio     []byte
}

var (
	AudioFields = []string{"audio", "data"}
	doneTypes   = []string{"done", "final", "flush_done"}
)

type Config struct {
	URL        string
	APIKey     string
	Voice      string
	SampleRate int
	Encoding   string
	Timeout    time.Duration
}

type request struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	SampleRate   int    `json:"sample_rate"`
	OutputFormat string `json:"output_format"`
}

type Synthesizer struct {
	cfg    Config
	logger *Logger.Logger
	dialer *websocket.Dialer
}

func New(cfg Config, logger *Logger.Logger) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "pcm_s16le"
	}
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &Synthesizer{cfg: cfg, logger: logger, dialer: websocket.DefaultDialer}
}

// Speak opens a connection for text and streams its audio to out. It returns
// once the backend signals completion, closes the socket, or the hard timeout
// elapses. ended is only emitted when at least one chunk was delivered.
func (s *Synthesizer) Speak(ctx context.Context, text string, out chan<- Event) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	id := uuid.NewString()

	connCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	conn, _, err := s.dialer.DialContext(connCtx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("tts dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-connCtx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(request{
		Text:         text,
		Voice:        s.cfg.Voice,
		SampleRate:   s.cfg.SampleRate,
		OutputFormat: s.cfg.Encoding,
	}); err != nil {
		return fmt.Errorf("tts request: %w", err)
	}

	chunks := 0
	emit := func(ev Event) bool {
		ev.Utterance = id
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	deliver := func(pcm []byte) bool {
		if len(pcm) == 0 {
			return true
		}
		if chunks == 0 && !emit(Event{Kind: Started}) {
			return false
		}
		chunks++
		return emit(Event{Kind: Audio, Audio: pcm})
	}

	var readErr error
read:
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		switch mt {
		case websocket.BinaryMessage:
			if !deliver(data) {
				break read
			}
		case websocket.TextMessage:
			if !gjson.ValidBytes(data) {
				continue
			}
			msg := gjson.ParseBytes(data)
			if e := msg.Get("error"); msg.Get("type").String() == "error" || (e.Exists() && e.Type != gjson.Null) {
				s.logger.Warnf("tts backend error: %s", errorText(msg))
				continue
			}
			if pcm := decodeAudio(msg); pcm != nil && !deliver(pcm) {
				break read
			}
			if isDone(msg) {
				break read
			}
		}
	}

	if chunks > 0 {
		emit(Event{Kind: Ended})
	}

	if errors.Is(connCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warnf("tts utterance %s hit the %s timeout after %d chunks", id, s.cfg.Timeout, chunks)
		return context.DeadlineExceeded
	}
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
		s.logger.Debugf("tts utterance %s closed: %v", id, readErr)
	}
	return nil
}

func decodeAudio(msg gjson.Result) []byte {
	for _, f := range AudioFields {
		v := msg.Get(f)
		if v.Type != gjson.String || v.String() == "" {
			continue
		}
		if b, err := base64.StdEncoding.DecodeString(v.String()); err == nil {
			return b
		}
		if b, err := base64.RawStdEncoding.DecodeString(v.String()); err == nil {
			return b
		}
	}
	return nil
}

func isDone(msg gjson.Result) bool {
	if msg.Get("isFinal").Bool() {
		return true
	}
	t := msg.Get("type").String()
	for _, d := range doneTypes {
		if t == d {
			return true
		}
	}
	return false
}

func errorText(msg gjson.Result) string {
	for _, p := range []string{"message", "error.message", "error", "description"} {
		if v := msg.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return msg.Raw
}
