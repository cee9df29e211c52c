package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/hashpay/internal/domain"
	"github.com/Proton-105/hashpay/internal/registry"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) (*registry.Registry, *repository.MemoryUserRepository, string) {
	t.Helper()

	reg := registry.New(testLogger())
	users := repository.NewMemoryUserRepository()
	srv := httptest.NewServer(NewServer(reg, users, config.PushConfig{
		WriteTimeout: time.Second,
		PongWait:     5 * time.Second,
	}, testLogger()))
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})

	return reg, users, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(Message{Type: msgType, Data: data}))
}

func receive(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func authenticate(t *testing.T, ws *websocket.Conn, userID string) {
	t.Helper()
	send(t, ws, TypeAuthenticate, AuthenticateData{UserID: userID})
	env := receive(t, ws)
	require.Equal(t, TypeAuthenticated, env.Type)
}

func TestServer_Protocol(t *testing.T) {
	reg, users, url := setupServer(t)
	ws := dial(t, url)

	send(t, ws, TypeStartMining, nil)
	env := receive(t, ws)
	assert.Equal(t, TypeError, env.Type, "start before authenticate must fail")

	authenticate(t, ws, "alice")
	_, err := users.Get(context.Background(), "alice")
	require.NoError(t, err, "authenticate creates the profile")

	send(t, ws, TypeStartMining, nil)
	env = receive(t, ws)
	require.Equal(t, TypeMiningStatus, env.Type)
	var status MiningStatusData
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Active)
	assert.Equal(t, 1, reg.ActiveCount())

	h, ok := reg.Lookup("alice")
	require.True(t, ok)
	sample := domain.TelemetrySample{HashrateTHs: 101.5, Earnings: decimal.RequireFromString("0.0004")}
	require.NoError(t, h.Send(context.Background(), MiningUpdate(sample)))

	env = receive(t, ws)
	require.Equal(t, TypeMiningUpdate, env.Type)
	var got domain.TelemetrySample
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 101.5, got.HashrateTHs)
	assert.True(t, sample.Earnings.Equal(got.Earnings))

	send(t, ws, "launch_rocket", nil)
	assert.Equal(t, TypeError, receive(t, ws).Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, TypeError, receive(t, ws).Type)

	send(t, ws, TypeStopMining, nil)
	env = receive(t, ws)
	require.Equal(t, TypeMiningStatus, env.Type)
	assert.Zero(t, reg.ActiveCount())
}

func TestServer_RejectsInvalidAuthentication(t *testing.T) {
	_, _, url := setupServer(t)
	ws := dial(t, url)

	send(t, ws, TypeAuthenticate, AuthenticateData{UserID: "  "})
	assert.Equal(t, TypeError, receive(t, ws).Type)

	send(t, ws, TypeAuthenticate, nil)
	assert.Equal(t, TypeError, receive(t, ws).Type)

	authenticate(t, ws, "alice")
	send(t, ws, TypeAuthenticate, AuthenticateData{UserID: "bob"})
	assert.Equal(t, TypeError, receive(t, ws).Type)
}

func TestServer_NewConnectionSupersedesOld(t *testing.T) {
	reg, _, url := setupServer(t)

	first := dial(t, url)
	authenticate(t, first, "alice")

	second := dial(t, url)
	authenticate(t, second, "alice")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "superseded connection must be closed")

	assert.Equal(t, 1, reg.Count())
	send(t, second, TypeStartMining, nil)
	assert.Equal(t, TypeMiningStatus, receive(t, second).Type)
}

func TestServer_DisconnectUnregisters(t *testing.T) {
	reg, _, url := setupServer(t)

	ws := dial(t, url)
	authenticate(t, ws, "alice")
	require.Equal(t, 1, reg.Count())

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
