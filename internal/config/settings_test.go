package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("VERA_GATEWAY_TOKEN", "s3cret")
	t.Setenv("VERA_STT_MAX_ATTEMPTS", "7")

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if settings.Gateway.Token != "s3cret" {
		t.Errorf("expected token from env, got %q", settings.Gateway.Token)
	}
	if settings.STT.MaxAttempts != 7 {
		t.Errorf("expected max attempts 7, got %d", settings.STT.MaxAttempts)
	}
	if settings.Gateway.RetryDelay != 5*time.Second {
		t.Errorf("expected default retry delay 5s, got %s", settings.Gateway.RetryDelay)
	}
	if settings.Reply.MaxSpokenChars != 300 {
		t.Errorf("expected default max spoken chars 300, got %d", settings.Reply.MaxSpokenChars)
	}
	if len(settings.Gateway.Scopes) != 2 {
		t.Errorf("expected 2 default scopes, got %v", settings.Gateway.Scopes)
	}
}

func TestValidateRequiresGatewayToken(t *testing.T) {
	s := &Settings{
		Gateway:  GatewayConfig{URL: "ws://gw"},
		Identity: IdentityConfig{Path: "id.json"},
	}
	if err := s.Validate(); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}

	s.Gateway.Token = "tok"
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}
