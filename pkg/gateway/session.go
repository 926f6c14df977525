// Package gateway is the authenticated client for the intelligence gateway.
// It performs the signed challenge handshake, keeps the connection alive
// across drops and surfaces parsed replies on a buffered channel. Replies
// that arrive while the buffer is full are dropped.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/tidwall/gjson"
	"github.com/xpanvictor/vera/pkg/Logger"
)

var (
	ErrNotAuthenticated = errors.New("gateway: not authenticated")
	ErrRejected         = errors.New("gateway: connect rejected")
	errChallengeTimeout = errors.New("gateway: no challenge received")
	errNoConnection     = errors.New("gateway: no connection")
)

const (
	writeWait   = 10 * time.Second
	replyBuffer = 32
)

// Signer is the device identity used to sign connect assertions.
type Signer interface {
	DeviceID() string
	PublicKeyBase64URL() string
	Sign(msg []byte) []byte
}

type Config struct {
	URL           string
	Token         string
	Session       string
	ClientID      string
	ClientMode    string
	ClientVersion string
	Platform      string
	Role          string
	Scopes        []string

	RetryDelay       time.Duration
	ChallengeTimeout time.Duration
}

type Session struct {
	cfg    Config
	signer Signer
	logger *Logger.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	machine *fsm.FSM
	replies chan Reply

	mu          sync.Mutex
	conn        *websocket.Conn
	deviceToken string
	connectID   string

	writeMu sync.Mutex
}

func New(cfg Config, signer Signer, logger *Logger.Logger) *Session {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.ChallengeTimeout <= 0 {
		cfg.ChallengeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = Logger.NewNop()
	}
	s := &Session{
		cfg:     cfg,
		signer:  signer,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
		replies: make(chan Reply, replyBuffer),
	}
	s.machine = newMachine(func(from, to string) {
		s.logger.Debugf("gateway %s -> %s", from, to)
	})
	return s
}

// Replies delivers parsed gateway replies in arrival order.
func (s *Session) Replies() <-chan Reply { return s.replies }

func (s *Session) State() Phase { return Phase(s.machine.Current()) }

func (s *Session) Authenticated() bool { return s.machine.Is(string(Authenticated)) }

func (s *Session) DeviceID() string { return s.signer.DeviceID() }

// DeviceToken returns the token issued on the last successful handshake.
func (s *Session) DeviceToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceToken
}

// Run connects and reconnects until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.connectOnce(ctx)
		s.fire(Drop)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warnf("gateway connection ended: %v; retrying in %s", err, s.cfg.RetryDelay)
		}

		t := time.NewTimer(s.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// SendMessage forwards user text to the gateway. Text is dropped when the
// session is not authenticated.
func (s *Session) SendMessage(text string) bool {
	if err := s.send(text); err != nil {
		s.logger.Warnf("dropping outbound message: %v", err)
		return false
	}
	return true
}

func (s *Session) send(text string) error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}
	return s.write(request{
		Type:   FrameRequest,
		ID:     uuid.NewString(),
		Method: MethodMessageSend,
		Params: messageParams{Session: s.cfg.Session, Text: text},
	})
}

func (s *Session) connectOnce(ctx context.Context) error {
	s.fire(Dial)

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		s.mu.Lock()
		s.conn = nil
		s.connectID = ""
		s.mu.Unlock()
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.fire(Open)
	s.logger.Infof("gateway connected to %s, awaiting challenge", s.cfg.URL)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ChallengeTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() && s.State() == AwaitingChallenge {
				return errChallengeTimeout
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handleFrame(ctx, data); err != nil {
			return err
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	if !gjson.ValidBytes(data) {
		s.logger.Debugf("discarding malformed gateway frame")
		return nil
	}
	frame := gjson.ParseBytes(data)

	switch frame.Get("type").String() {
	case FrameEvent:
		name := frame.Get("event").String()
		payload := frame.Get("payload")
		switch {
		case name == EventChallenge:
			return s.answerChallenge(payload)
		case IsReplyEvent(name):
			reply, ok := ParseReply([]byte(payload.Raw))
			if !ok {
				s.logger.Debugf("reply event %s carried nothing usable", name)
				return nil
			}
			// never stall the read loop behind a slow consumer
			select {
			case s.replies <- reply:
			default:
				s.logger.Warnf("reply queue full, dropping %s reply", name)
			}
		default:
			s.logger.Debugf("ignoring gateway event %s", name)
		}
	case FrameResponse:
		return s.handleResponse(frame)
	default:
		s.logger.Debugf("ignoring gateway frame type %q", frame.Get("type").String())
	}
	return nil
}

func (s *Session) answerChallenge(payload gjson.Result) error {
	if s.State() != AwaitingChallenge {
		s.logger.Warnf("unexpected challenge in state %s", s.State())
		return nil
	}
	nonce := payload.Get("nonce").String()
	if nonce == "" {
		s.logger.Warnf("challenge without nonce, ignoring")
		return nil
	}

	s.mu.Lock()
	deviceToken := s.deviceToken
	s.mu.Unlock()

	a := Assertion{
		DeviceID:   s.signer.DeviceID(),
		ClientID:   s.cfg.ClientID,
		ClientMode: s.cfg.ClientMode,
		Role:       s.cfg.Role,
		Scopes:     s.cfg.Scopes,
		SignedAtMs: s.now().UnixMilli(),
		Token:      s.cfg.Token,
		Nonce:      nonce,
	}
	sig := s.signer.Sign([]byte(a.Payload()))

	id := uuid.NewString()
	req := request{
		Type:   FrameRequest,
		ID:     id,
		Method: MethodConnect,
		Params: connectParams{
			MinProtocol: protocolVersion,
			MaxProtocol: protocolVersion,
			Client: clientInfo{
				ID:       s.cfg.ClientID,
				Version:  s.cfg.ClientVersion,
				Platform: s.cfg.Platform,
				Mode:     s.cfg.ClientMode,
			},
			Role:   s.cfg.Role,
			Scopes: s.cfg.Scopes,
			Auth:   authInfo{Token: s.cfg.Token, DeviceToken: deviceToken},
			Device: deviceBlock{
				ID:        a.DeviceID,
				PublicKey: s.signer.PublicKeyBase64URL(),
				Signature: base64.RawURLEncoding.EncodeToString(sig),
				SignedAt:  a.SignedAtMs,
				Nonce:     nonce,
			},
		},
	}

	s.mu.Lock()
	s.connectID = id
	s.mu.Unlock()

	s.fire(Challenge)
	if err := s.write(req); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	return nil
}

func (s *Session) handleResponse(frame gjson.Result) error {
	s.mu.Lock()
	pending := s.connectID
	s.mu.Unlock()

	ok := frame.Get("ok").Bool()
	if pending == "" || frame.Get("id").String() != pending {
		if !ok {
			s.logger.Warnf("gateway request %s failed: %s", frame.Get("id").String(), frame.Get("error").Raw)
		}
		return nil
	}

	if !ok {
		s.logger.Errorf("gateway rejected connect: %s", frame.Get("error").Raw)
		return ErrRejected
	}

	s.mu.Lock()
	s.connectID = ""
	if tok := frame.Get("payload.auth.deviceToken").String(); tok != "" {
		s.deviceToken = tok
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.SetReadDeadline(time.Time{})
	}
	s.fire(Accept)
	s.logger.Infof("gateway authenticated as device %s", s.signer.DeviceID())
	return nil
}

func (s *Session) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNoConnection
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) fire(t Trigger) {
	if err := s.machine.Event(context.Background(), string(t)); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			// drop from disconnected is a no-op
			return
		}
		s.logger.Debugf("gateway transition %s: %v", t, err)
	}
}
