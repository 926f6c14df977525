package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/vera/internal/config"
	"github.com/xpanvictor/vera/internal/domains/avatar"
	"github.com/xpanvictor/vera/internal/domains/orchestrator"
	"github.com/xpanvictor/vera/internal/handlers"
	"github.com/xpanvictor/vera/internal/handlers/websocket"
	"github.com/xpanvictor/vera/internal/server"
	"github.com/xpanvictor/vera/pkg/Logger"
	"github.com/xpanvictor/vera/pkg/gateway"
	"github.com/xpanvictor/vera/pkg/identity"
	sttstream "github.com/xpanvictor/vera/pkg/io/stt/stream"
	ttsstream "github.com/xpanvictor/vera/pkg/io/tts/stream"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// App represents the application with all its dependencies
type App struct {
	Config   *config.Settings
	Logger   *Logger.Logger
	Identity *identity.Identity

	Gateway      *gateway.Session
	Transcriber  *sttstream.Link
	Synthesizer  *ttsstream.Synthesizer
	Connections  *websocket.ConnectionManager
	Orchestrator *orchestrator.Orchestrator
	Avatar       avatar.AvatarService

	WebSocket  *websocket.WebSocketHandler
	ServerDeps server.Dependencies
	Router     *gin.Engine
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.setupDependencies(); err != nil {
		return nil, err
	}

	return app, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies() error {
	// 1. Device identity, a storage failure is fatal
	store := identity.NewFileStore(a.Config.Identity.Path, a.Config.Identity.Passphrase, a.Logger.Named("identity"))
	id, err := store.Load()
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	a.Identity = id
	a.Logger.Infof("device identity %s", id.DeviceID())

	// 2. Upstream links
	gw := a.Config.Gateway
	a.Gateway = gateway.New(gateway.Config{
		URL:              gw.URL,
		Token:            gw.Token,
		Session:          gw.Session,
		ClientID:         gw.ClientID,
		ClientMode:       gw.ClientMode,
		ClientVersion:    gw.ClientVersion,
		Platform:         gw.Platform,
		Role:             gw.Role,
		Scopes:           gw.Scopes,
		RetryDelay:       gw.RetryDelay,
		ChallengeTimeout: gw.ChallengeTimeout,
	}, id, a.Logger.Named("gateway"))

	stt := a.Config.STT
	a.Transcriber = sttstream.New(sttstream.Config{
		URL:         stt.URL,
		APIKey:      stt.APIKey,
		SampleRate:  stt.SampleRate,
		Encoding:    stt.Encoding,
		Channels:    stt.Channels,
		BaseDelay:   stt.BaseDelay,
		MaxDelay:    stt.MaxDelay,
		MaxAttempts: stt.MaxAttempts,
		StableAfter: stt.StableAfter,
		KeepAlive:   stt.KeepAlive,
		RingSize:    stt.RingSize,
	}, a.Logger.Named("stt"))

	tts := a.Config.TTS
	a.Synthesizer = ttsstream.New(ttsstream.Config{
		URL:        tts.URL,
		APIKey:     tts.APIKey,
		Voice:      tts.Voice,
		SampleRate: tts.SampleRate,
		Encoding:   tts.Encoding,
		Timeout:    tts.Timeout,
	}, a.Logger.Named("tts"))

	// 3. Client fan-out and the session coordinator
	a.Connections = websocket.NewConnectionManager(a.Logger.Named("clients"))
	a.Orchestrator = orchestrator.New(orchestrator.Config{
		MaxSpokenChars: a.Config.Reply.MaxSpokenChars,
		MinBoundary:    a.Config.Reply.MinBoundary,
	}, a.Gateway, a.Transcriber, a.Synthesizer, a.Connections, a.Logger.Named("orchestrator"))

	av := a.Config.Avatar
	a.Avatar = avatar.NewAvatarService(avatar.Config{
		URL:           av.URL,
		APIKey:        av.APIKey,
		FaceID:        av.FaceID,
		VoiceID:       av.VoiceID,
		TTL:           av.TTL,
		RefreshMargin: av.RefreshMargin,
	}, nil, a.Logger.Named("avatar"))

	// 4. HTTP surface
	a.WebSocket = websocket.NewWebSocketHandler(a.Logger.Named("ws"), a.Orchestrator, a.Connections)
	a.ServerDeps = server.NewServerDependencies(
		a.Logger,
		a.WebSocket,
		handlers.NewStatusHandler(a.Gateway, a.Orchestrator, a.Connections),
		handlers.NewAvatarHandler(a.Avatar, a.Logger.Named("avatar")),
	)

	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	a.Router = gin.New()
	server.InitializeRoutes(a.Router, a.ServerDeps)

	return nil
}

// Run serves HTTP and keeps every link alive until ctx is cancelled, then
// shuts the server down within shutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.Config.Server.Addr,
		Handler: a.Router.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Errorf("Shutdown err %v", err)
		}
		return a.WebSocket.Close()
	})
	g.Go(func() error {
		a.logExit("gateway", a.Gateway.Run(ctx))
		return nil
	})
	g.Go(func() error {
		err := a.Transcriber.Run(ctx)
		if errors.Is(err, sttstream.ErrRetryBudgetExhausted) {
			// the bridge keeps serving chat and fallback replies without speech input
			a.Logger.Errorf("transcription disabled: %v", err)
			return nil
		}
		a.logExit("stt", err)
		return nil
	})
	g.Go(func() error {
		a.logExit("orchestrator", a.Orchestrator.Run(ctx))
		return nil
	})

	err := g.Wait()
	a.Logger.Info("Shutdown system")
	return err
}

func (a *App) logExit(component string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Errorf("%s stopped: %v", component, err)
	}
}
