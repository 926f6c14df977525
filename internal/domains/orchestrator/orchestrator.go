// Package orchestrator is the coordination point of a voice session. It
// consumes transcripts, gateway replies, synthesis events and typed chat on a
// single goroutine and fans the results out to every attached client.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xpanvictor/vera/pkg/Logger"
	"github.com/xpanvictor/vera/pkg/gateway"
	sttstream "github.com/xpanvictor/vera/pkg/io/stt/stream"
	ttsstream "github.com/xpanvictor/vera/pkg/io/tts/stream"
)

type Gateway interface {
	Authenticated() bool
	State() gateway.Phase
	SendMessage(text string) bool
	Replies() <-chan gateway.Reply
}

type Transcriber interface {
	Connected() bool
	SendAudio(frame []byte)
	EndUtterance()
	Transcripts() <-chan sttstream.Transcript
}

type Speaker interface {
	Speak(ctx context.Context, text string, out chan<- ttsstream.Event) error
}

// Broadcaster delivers to every open client connection and reports how many
// received the message.
type Broadcaster interface {
	BroadcastJSON(v any) int
	BroadcastBinary(data []byte) int
	Count() int
}

type Config struct {
	MaxSpokenChars int
	MinBoundary    int
}

type Stats struct {
	Clients         int    `json:"clients"`
	Gateway         string `json:"gateway"`
	Authenticated   bool   `json:"authenticated"`
	Transcription   bool   `json:"transcription"`
	Speaking        int64  `json:"speaking"`
	Utterances      int64  `json:"utterances"`
	FallbackReplies int64  `json:"fallbackReplies"`
}

type Orchestrator struct {
	cfg     Config
	gw      Gateway
	stt     Transcriber
	tts     Speaker
	clients Broadcaster
	logger  *Logger.Logger

	chat   chan string
	speech chan ttsstream.Event

	speaking   atomic.Int64
	utterances atomic.Int64
	fallbacks  atomic.Int64
	wg         sync.WaitGroup
}

func New(cfg Config, gw Gateway, stt Transcriber, tts Speaker, clients Broadcaster, logger *Logger.Logger) *Orchestrator {
	if cfg.MaxSpokenChars <= 0 {
		cfg.MaxSpokenChars = 300
	}
	if cfg.MinBoundary <= 0 {
		cfg.MinBoundary = 100
	}
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		gw:      gw,
		stt:     stt,
		tts:     tts,
		clients: clients,
		logger:  logger,
		chat:    make(chan string, 16),
		speech:  make(chan ttsstream.Event, 256),
	}
}

// Run consumes every link until ctx is cancelled, then waits for in-flight
// utterances to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.wg.Wait()

	transcripts := o.stt.Transcripts()
	replies := o.gw.Replies()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			o.onTranscript(ctx, tr)
		case r, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			o.onReply(ctx, r)
		case text := <-o.chat:
			o.respond(ctx, text)
		case ev := <-o.speech:
			o.onSpeech(ev)
		}
	}
}

// SubmitChat feeds typed client text into the same path as a final
// transcript.
func (o *Orchestrator) SubmitChat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case o.chat <- text:
	default:
		o.logger.Warnf("chat queue full, dropping message")
	}
}

func (o *Orchestrator) HandleAudio(frame []byte) { o.stt.SendAudio(frame) }

func (o *Orchestrator) EndSpeech() { o.stt.EndUtterance() }

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Clients:         o.clients.Count(),
		Gateway:         string(o.gw.State()),
		Authenticated:   o.gw.Authenticated(),
		Transcription:   o.stt.Connected(),
		Speaking:        o.speaking.Load(),
		Utterances:      o.utterances.Load(),
		FallbackReplies: o.fallbacks.Load(),
	}
}

func (o *Orchestrator) onTranscript(ctx context.Context, tr sttstream.Transcript) {
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	o.clients.BroadcastJSON(TranscriptMessage{Type: TypeTranscript, Text: text, IsFinal: tr.IsFinal})
	if tr.IsFinal {
		o.respond(ctx, text)
	}
}

// respond routes user text to the gateway, or answers locally when the
// gateway cannot take it.
func (o *Orchestrator) respond(ctx context.Context, text string) {
	if o.gw.Authenticated() && o.gw.SendMessage(text) {
		o.logger.Debugf("forwarded %d chars to gateway", len(text))
		return
	}
	class, reply := FallbackReply(text)
	o.fallbacks.Add(1)
	o.logger.Infof("gateway unavailable (%s), answering with %s fallback", o.gw.State(), class)
	o.say(ctx, reply)
}

func (o *Orchestrator) onReply(ctx context.Context, r gateway.Reply) {
	if text := strings.TrimSpace(r.Text); text != "" {
		o.say(ctx, text)
	}
	for _, tc := range r.ToolCalls {
		call, err := CallFromTool(tc)
		if err != nil {
			o.logger.Warnf("dropping tool call %q: %v", tc.Name, err)
			continue
		}
		o.logger.Infof("call instruction for %s", call.Name)
		o.clients.BroadcastJSON(CallMessage{Type: TypeCall, Phone: call.Phone, Name: call.Name})
	}
}

// say shows the full text and speaks its truncated form.
func (o *Orchestrator) say(ctx context.Context, text string) {
	o.clients.BroadcastJSON(ResponseMessage{Type: TypeResponse, Text: text})

	spoken := Truncate(text, o.cfg.MaxSpokenChars, o.cfg.MinBoundary)
	o.utterances.Add(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.tts.Speak(ctx, spoken, o.speech); err != nil && ctx.Err() == nil {
			o.logger.Warnf("synthesis failed: %v", err)
		}
	}()
}

func (o *Orchestrator) onSpeech(ev ttsstream.Event) {
	switch ev.Kind {
	case ttsstream.Started:
		o.speaking.Add(1)
		o.clients.BroadcastJSON(SignalMessage{Type: TypeSpeakingStart})
	case ttsstream.Audio:
		o.clients.BroadcastBinary(ev.Audio)
	case ttsstream.Ended:
		o.speaking.Add(-1)
		o.clients.BroadcastJSON(SignalMessage{Type: TypeSpeakingEnd})
	}
}
