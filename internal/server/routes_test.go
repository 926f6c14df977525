package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/vera/internal/domains/avatar"
	"github.com/xpanvictor/vera/internal/domains/orchestrator"
	"github.com/xpanvictor/vera/internal/handlers"
	"github.com/xpanvictor/vera/internal/handlers/websocket"
)

type stubGateway struct{ ok bool }

func (s stubGateway) Authenticated() bool { return s.ok }

type stubSession struct{}

func (stubSession) Stats() orchestrator.Stats {
	return orchestrator.Stats{Gateway: "authenticated", Authenticated: true, Utterances: 4}
}

type stubInbound struct{}

func (stubInbound) SubmitChat(string)  {}
func (stubInbound) HandleAudio([]byte) {}
func (stubInbound) EndSpeech()         {}

type stubAvatar struct {
	session avatar.Session
	err     error
}

func (s stubAvatar) Session(context.Context) (avatar.Session, error) { return s.session, s.err }

func newRouter(gatewayUp bool, av avatar.AvatarService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cm := websocket.NewConnectionManager(nil)
	dep := NewServerDependencies(
		nil,
		websocket.NewWebSocketHandler(nil, stubInbound{}, cm),
		handlers.NewStatusHandler(stubGateway{ok: gatewayUp}, stubSession{}, cm),
		handlers.NewAvatarHandler(av, nil),
	)
	r := gin.New()
	InitializeRoutes(r, dep)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	for _, up := range []bool{true, false} {
		w := do(newRouter(up, stubAvatar{}), http.MethodGet, "/health")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var body handlers.HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Status != "ok" || body.Gateway != up {
			t.Errorf("gateway up=%v: got %+v", up, body)
		}
	}
}

func TestStats(t *testing.T) {
	w := do(newRouter(true, stubAvatar{}), http.MethodGet, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body handlers.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Session.Utterances != 4 || !body.Session.Authenticated {
		t.Errorf("session = %+v", body.Session)
	}
	if body.Connections["active_clients"] != float64(0) {
		t.Errorf("connections = %v", body.Connections)
	}
}

func TestAvatarSession(t *testing.T) {
	tests := []struct {
		name   string
		av     stubAvatar
		method string
		code   int
		token  string
	}{
		{"post", stubAvatar{session: avatar.Session{Token: "tok-1"}}, http.MethodPost, http.StatusOK, "tok-1"},
		{"get alias", stubAvatar{session: avatar.Session{Token: "tok-2"}}, http.MethodGet, http.StatusOK, "tok-2"},
		{"not configured", stubAvatar{err: avatar.ErrNotConfigured}, http.MethodPost, http.StatusServiceUnavailable, ""},
		{"upstream failure", stubAvatar{err: errors.New("avatar backend returned 500")}, http.MethodPost, http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(true, tt.av), tt.method, "/avatar/session")
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.token == "" {
				return
			}
			var body handlers.AvatarSessionResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.SessionToken != tt.token {
				t.Errorf("token = %q", body.SessionToken)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	w := do(newRouter(true, stubAvatar{}), http.MethodOptions, "/avatar/session")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
