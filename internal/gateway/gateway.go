// Package gateway terminates realtime websocket connections and turns inbound
// signals into calls on the realtime engine and the domain services.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	defaultInboundRate  = 20
	defaultInboundBurst = 40
)

var (
	errMissingEngine     = errors.New("gateway: realtime engine is required")
	errMissingMessages   = errors.New("gateway: message sender is required")
	errMissingRelay      = errors.New("gateway: document relay is required")
	errMissingIDProvider = errors.New("gateway: id provider is required")
	errMissingUser       = errors.New("gateway: authenticated user is required")
)

// Engine is the part of the realtime engine a connection drives.
type Engine interface {
	Connect(connectionID realtime.ConnectionID) (<-chan realtime.Frame, error)
	Disconnect(ctx context.Context, connectionID realtime.ConnectionID)
	RegisterConnection(ctx context.Context, userID string, connectionID realtime.ConnectionID) error
	RefreshPresence(ctx context.Context, connectionID realtime.ConnectionID) error
	JoinRoom(connectionID realtime.ConnectionID, room realtime.RoomName) error
	LeaveRoom(connectionID realtime.ConnectionID, room realtime.RoomName)
}

// MessageSender persists and fans out chat messages.
type MessageSender interface {
	Send(ctx context.Context, workspaceID, senderID, content string) (realtime.ChatMessage, error)
}

// DocumentRelay serves collaborative editing rooms.
type DocumentRelay interface {
	Join(ctx context.Context, connectionID realtime.ConnectionID, userID, documentID string) (documents.Document, error)
	Leave(connectionID realtime.ConnectionID, documentID string)
	ApplyEdit(ctx context.Context, connectionID realtime.ConnectionID, documentID string, delta json.RawMessage) (int, error)
}

// WorkspaceAccess answers whether a user belongs to a workspace.
type WorkspaceAccess interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Config wires a Gateway. A nil Access lets any connection join any workspace
// room and post to any workspace. A zero PresenceRefresh never renews
// presence entries.
type Config struct {
	Engine          Engine
	Messages        MessageSender
	Relay           DocumentRelay
	Access          WorkspaceAccess
	IDProvider      ids.Provider
	InboundRate     float64
	InboundBurst    int
	PresenceRefresh time.Duration
	AllowedOrigins  []string
	Metrics         metrics.Recorder
	Logger          *zap.Logger
}

// Gateway upgrades HTTP requests and runs one session per socket.
type Gateway struct {
	engine          Engine
	messages        MessageSender
	relay           DocumentRelay
	access          WorkspaceAccess
	idProvider      ids.Provider
	inboundRate     rate.Limit
	inboundBurst    int
	presenceRefresh time.Duration
	upgrader        websocket.Upgrader
	metrics         metrics.Recorder
	logger          *zap.Logger
}

// New validates cfg and fills in the default inbound rate limit.
func New(cfg Config) (*Gateway, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	if cfg.Relay == nil {
		return nil, errMissingRelay
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	inboundRate := cfg.InboundRate
	if inboundRate <= 0 {
		inboundRate = defaultInboundRate
	}
	inboundBurst := cfg.InboundBurst
	if inboundBurst <= 0 {
		inboundBurst = defaultInboundBurst
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		engine:          cfg.Engine,
		messages:        cfg.Messages,
		relay:           cfg.Relay,
		access:          cfg.Access,
		idProvider:      cfg.IDProvider,
		inboundRate:     rate.Limit(inboundRate),
		inboundBurst:    inboundBurst,
		presenceRefresh: cfg.PresenceRefresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		metrics: recorder,
		logger:  logger,
	}, nil
}

// Serve upgrades the request and blocks until the socket closes. userID is
// the identity established by the caller's handshake authentication.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return errMissingUser
	}
	rawID, err := g.idProvider.NewID()
	if err != nil {
		g.logger.Error("connection id generation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return err
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Info("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}

	connectionID := realtime.ConnectionID(rawID)
	stream, err := g.engine.Connect(connectionID)
	if err != nil {
		g.logger.Error("connection attach failed", zap.String("connection_id", rawID), zap.Error(err))
		_ = conn.Close()
		return err
	}
	g.logger.Debug("connection opened", zap.String("connection_id", rawID), zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s := &session{
		gateway: g,
		conn:    conn,
		id:      connectionID,
		userID:  userID,
		limiter: rate.NewLimiter(g.inboundRate, g.inboundBurst),
		logger:  g.logger.With(zap.String("connection_id", rawID), zap.String("user_id", userID)),
	}
	go s.writePump(ctx, stream)
	s.readPump(ctx)

	cancel()
	g.engine.Disconnect(context.WithoutCancel(r.Context()), connectionID)
	s.logger.Debug("connection closed")
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			origins[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
