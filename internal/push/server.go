package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Proton-105/hashpay/internal/registry"
	"github.com/Proton-105/hashpay/internal/repository"
	"github.com/Proton-105/hashpay/pkg/config"
	"github.com/Proton-105/hashpay/pkg/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultMaxMessage   = 4096
	maxUserIDLength     = 128
)

// Server upgrades HTTP requests and runs the per-connection protocol.
type Server struct {
	registry *registry.Registry
	users    repository.UserRepository
	upgrader websocket.Upgrader
	cfg      config.PushConfig
	log      *slog.Logger
}

func NewServer(reg *registry.Registry, users repository.UserRepository, cfg config.PushConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessage
	}

	s := &Server{registry: reg, users: users, cfg: cfg, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		return
	}

	c := newConn(ws, s.cfg.WriteTimeout)
	session := &session{server: s, conn: c, log: s.log.With(slog.String("remote", r.RemoteAddr))}
	session.run(r.Context())
}

// session is the server side of one websocket.
type session struct {
	server *Server
	conn   *conn
	handle *registry.Handle
	log    *slog.Logger
}

func (ss *session) run(ctx context.Context) {
	ws := ss.conn.ws
	ws.SetReadLimit(ss.server.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(ss.server.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ss.server.cfg.PongWait))
	})

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go ss.keepAlive(ctx)

	defer func() {
		if ss.handle != nil {
			ss.server.registry.Unregister(ss.handle)
		}
		_ = ss.conn.Close()
	}()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.log.Debug("push connection closed", slog.Any("error", err))
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(payload, &in); err != nil {
			ss.reply(ctx, errorMessage("malformed message"))
			continue
		}
		ss.dispatch(ctx, in)
	}
}

func (ss *session) dispatch(ctx context.Context, in Inbound) {
	switch in.Type {
	case TypeAuthenticate:
		ss.authenticate(ctx, in.Data)
	case TypeStartMining, TypeStopMining:
		if ss.handle == nil {
			ss.reply(ctx, errorMessage("not authenticated"))
			return
		}
		active := in.Type == TypeStartMining
		if !ss.server.registry.SetActive(ss.handle, active) {
			ss.reply(ctx, errorMessage("connection superseded"))
			return
		}
		ss.log.Info("mining toggled", slog.Bool("active", active))
		ss.reply(ctx, Message{Type: TypeMiningStatus, Data: MiningStatusData{Active: active}})
	default:
		ss.reply(ctx, errorMessage("unknown message type"))
	}
}

func (ss *session) authenticate(ctx context.Context, raw json.RawMessage) {
	var data AuthenticateData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		ss.reply(ctx, errorMessage("invalid authenticate payload"))
		return
	}

	userID := strings.TrimSpace(data.UserID)
	if userID == "" || len(userID) > maxUserIDLength {
		ss.reply(ctx, errorMessage("userId is required"))
		return
	}
	if ss.handle != nil {
		if ss.handle.UserID == userID {
			ss.reply(ctx, Message{Type: TypeAuthenticated, Data: AuthenticatedData{UserID: userID}})
			return
		}
		ss.reply(ctx, errorMessage("already authenticated"))
		return
	}

	if _, err := ss.server.users.Ensure(ctx, userID); err != nil {
		ss.log.Error("failed to load user on authenticate", slog.String("user_id", userID), slog.Any("error", err))
		ss.reply(ctx, errorMessage("authentication unavailable"))
		return
	}

	ss.handle = ss.server.registry.Register(userID, ss.conn)
	ss.log = ss.log.With(slog.String("user_id", userID))
	ss.log.Info("push client authenticated")
	ss.reply(ctx, Message{Type: TypeAuthenticated, Data: AuthenticatedData{UserID: userID}})
}

func (ss *session) reply(ctx context.Context, msg Message) {
	status := "ok"
	if err := ss.conn.Send(ctx, msg); err != nil {
		status = "error"
		ss.log.Debug("failed to reply", slog.String("type", msg.Type), slog.Any("error", err))
	}
	metrics.RecordPush(msg.Type, status)
}

func (ss *session) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(ss.server.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.conn.ping(); err != nil {
				_ = ss.conn.Close()
				return
			}
		}
	}
}
