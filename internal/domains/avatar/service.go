// Package avatar issues session tokens for the lip-sync avatar backend and
// caches them until shortly before they expire.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xpanvictor/vera/pkg/Logger"
)

var ErrNotConfigured = errors.New("avatar backend not configured")

type Config struct {
	URL           string
	APIKey        string
	FaceID        string
	VoiceID       string
	TTL           time.Duration
	RefreshMargin time.Duration
}

type Session struct {
	Token     string    `json:"session_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionRequest struct {
	FaceID  string `json:"face_id"`
	VoiceID string `json:"voice_id"`
}

type sessionResponse struct {
	SessionToken string `json:"session_token"`
}

type AvatarService interface {
	Session(ctx context.Context) (Session, error)
}

type avatarService struct {
	cfg    Config
	client *http.Client
	logger *Logger.Logger
	now    func() time.Time

	// held across the fetch so concurrent callers share one round trip
	mu     sync.Mutex
	cached *Session
}

func NewAvatarService(cfg Config, client *http.Client, logger *Logger.Logger) AvatarService {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.RefreshMargin < 0 {
		cfg.RefreshMargin = 0
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &avatarService{cfg: cfg, client: client, logger: logger, now: time.Now}
}

// Session returns the cached token while it is outside the refresh margin,
// otherwise fetches a new one.
func (s *avatarService) Session(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Before(s.cached.ExpiresAt.Add(-s.cfg.RefreshMargin)) {
		return *s.cached, nil
	}

	sess, err := s.fetch(ctx)
	if err != nil {
		return Session{}, err
	}
	s.cached = &sess
	s.logger.Infof("avatar session refreshed, expires %s", sess.ExpiresAt.Format(time.RFC3339))
	return sess, nil
}

func (s *avatarService) fetch(ctx context.Context) (Session, error) {
	if s.cfg.URL == "" {
		return Session{}, ErrNotConfigured
	}

	body, err := json.Marshal(sessionRequest{FaceID: s.cfg.FaceID, VoiceID: s.cfg.VoiceID})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("avatar request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("failed to read avatar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("avatar backend returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out sessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, fmt.Errorf("failed to decode avatar response: %w", err)
	}
	if out.SessionToken == "" {
		return Session{}, errors.New("avatar response has no session_token")
	}
	return Session{Token: out.SessionToken, ExpiresAt: s.expiry(out.SessionToken)}, nil
}

// expiry reads the exp claim when the token is a JWT. The signature is not
// checked; the token is only passed through to the client.
func (s *avatarService) expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return s.now().Add(s.cfg.TTL)
}
