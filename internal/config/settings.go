package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingSecret is returned by Validate when a required secret is not configured.
var ErrMissingSecret = errors.New("missing required secret")

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type IdentityConfig struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

type GatewayConfig struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"token"`
	Session          string        `mapstructure:"session"`
	ClientID         string        `mapstructure:"client_id"`
	ClientMode       string        `mapstructure:"client_mode"`
	ClientVersion    string        `mapstructure:"client_version"`
	Platform         string        `mapstructure:"platform"`
	Role             string        `mapstructure:"role"`
	Scopes           []string      `mapstructure:"scopes"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`
}

type STTConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Encoding    string        `mapstructure:"encoding"`
	Channels    int           `mapstructure:"channels"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	StableAfter time.Duration `mapstructure:"stable_after"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
	RingSize    int           `mapstructure:"ring_size"`
}

type TTSConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Voice      string        `mapstructure:"voice"`
	SampleRate int           `mapstructure:"sample_rate"`
	Encoding   string        `mapstructure:"encoding"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ReplyConfig struct {
	MaxSpokenChars int `mapstructure:"max_spoken_chars"`
	MinBoundary    int `mapstructure:"min_boundary"`
}

type AvatarConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	FaceID        string        `mapstructure:"face_id"`
	VoiceID       string        `mapstructure:"voice_id"`
	TTL           time.Duration `mapstructure:"ttl"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
}

type Settings struct {
	Server   ServerConfig   `mapstructure:"server"`
	Identity IdentityConfig `mapstructure:"identity"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	STT      STTConfig      `mapstructure:"stt"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Reply    ReplyConfig    `mapstructure:"reply"`
	Avatar   AvatarConfig   `mapstructure:"avatar"`
	Env      string         `mapstructure:"env"`
	Debug    bool           `mapstructure:"debug"`
}

func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("VERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Load settings from a configuration file or environment variables
	v.SetConfigName("config_" + genEnv(v))
	v.AddConfigPath(".")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

// Validate reports misconfiguration that must stop the process at startup.
func (s *Settings) Validate() error {
	if s.Gateway.Token == "" {
		return fmt.Errorf("gateway.token: %w", ErrMissingSecret)
	}
	if s.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if s.Identity.Path == "" {
		return errors.New("identity.path is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)
	v.SetDefault("server.addr", ":3000")

	v.SetDefault("identity.path", "data/device-identity.json")
	v.SetDefault("identity.passphrase", "")

	v.SetDefault("gateway.url", "ws://127.0.0.1:18789")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.session", "main")
	v.SetDefault("gateway.client_id", "vera-bridge")
	v.SetDefault("gateway.client_mode", "backend")
	v.SetDefault("gateway.client_version", "1.0.0")
	v.SetDefault("gateway.platform", "linux")
	v.SetDefault("gateway.role", "operator")
	v.SetDefault("gateway.scopes", []string{"operator.read", "operator.write"})
	v.SetDefault("gateway.retry_delay", 5*time.Second)
	v.SetDefault("gateway.challenge_timeout", 10*time.Second)

	v.SetDefault("stt.url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.sample_rate", 16000)
	v.SetDefault("stt.encoding", "linear16")
	v.SetDefault("stt.channels", 1)
	v.SetDefault("stt.base_delay", time.Second)
	v.SetDefault("stt.max_delay", 30*time.Second)
	v.SetDefault("stt.max_attempts", 5)
	v.SetDefault("stt.stable_after", 30*time.Second)
	v.SetDefault("stt.keep_alive", 8*time.Second)
	v.SetDefault("stt.ring_size", 256*1024)

	v.SetDefault("tts.url", "wss://api.elevenlabs.io/v1/text-to-speech/stream")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.voice", "vera")
	v.SetDefault("tts.sample_rate", 24000)
	v.SetDefault("tts.encoding", "pcm_s16le")
	v.SetDefault("tts.timeout", 30*time.Second)

	v.SetDefault("reply.max_spoken_chars", 300)
	v.SetDefault("reply.min_boundary", 100)

	v.SetDefault("avatar.url", "")
	v.SetDefault("avatar.api_key", "")
	v.SetDefault("avatar.face_id", "")
	v.SetDefault("avatar.voice_id", "")
	v.SetDefault("avatar.ttl", 10*time.Minute)
	v.SetDefault("avatar.refresh_margin", time.Minute)
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
