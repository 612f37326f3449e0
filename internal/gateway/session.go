package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/serviceerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Inbound signal names.
const (
	SignalRegisterUser   = "register_user"
	SignalJoinWorkspace  = "join_workspace"
	SignalLeaveWorkspace = "leave_workspace"
	SignalJoinDocument   = "join_document"
	SignalLeaveDocument  = "leave_document"
	SignalSendMessage    = "send_message"
	SignalDocumentChange = "document_change"
)

const (
	rejectMalformed        = "malformed"
	rejectUnknownSignal    = "unknown_signal"
	rejectRateLimited      = "rate_limited"
	rejectIdentityMismatch = "identity_mismatch"
	rejectForbidden        = "forbidden"
	rejectNotInRoom        = "not_in_room"
	rejectFailed           = "failed"
)

var (
	errMalformedPayload = errors.New("malformed payload")
	errIdentityMismatch = errors.New("register_user does not match the authenticated user")
)

type inboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type sendMessagePayload struct {
	WorkspaceID string `json:"workspace"`
	Content     string `json:"content"`
}

type documentChangePayload struct {
	DocumentID string          `json:"documentId"`
	Delta      json.RawMessage `json:"delta"`
}

// session is one live socket.
type session struct {
	gateway *Gateway
	conn    *websocket.Conn
	id      realtime.ConnectionID
	userID  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (s *session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("websocket read failed", zap.Error(err))
			}
			return
		}
		s.handle(ctx, message)
	}
}

// writePump drains the outbound queue until the engine closes it. It also
// renews the connection's presence entry while the socket stays open.
func (s *session) writePump(ctx context.Context, stream <-chan realtime.Frame) {
	ticker := time.NewTicker(pingPeriod)
	var refresh <-chan time.Time
	if s.gateway.presenceRefresh > 0 {
		refreshTicker := time.NewTicker(s.gateway.presenceRefresh)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C
	}
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-stream:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug("websocket write failed", zap.String("event", string(frame.Event)), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-refresh:
			if err := s.gateway.engine.RefreshPresence(ctx, s.id); err != nil {
				s.logger.Warn("presence refresh failed", zap.Error(err))
			}
		}
	}
}

func (s *session) handle(ctx context.Context, message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil || strings.TrimSpace(frame.Event) == "" {
		s.reject("", rejectMalformed, errMalformedPayload)
		return
	}
	signal := strings.TrimSpace(frame.Event)
	if !s.limiter.Allow() {
		s.reject(signal, rejectRateLimited, nil)
		return
	}

	var err error
	switch signal {
	case SignalRegisterUser:
		err = s.registerUser(ctx, frame.Payload)
	case SignalJoinWorkspace:
		err = s.joinWorkspace(ctx, frame.Payload)
	case SignalLeaveWorkspace:
		err = s.leaveWorkspace(frame.Payload)
	case SignalJoinDocument:
		err = s.joinDocument(ctx, frame.Payload)
	case SignalLeaveDocument:
		err = s.leaveDocument(frame.Payload)
	case SignalSendMessage:
		err = s.sendMessage(ctx, frame.Payload)
	case SignalDocumentChange:
		err = s.documentChange(ctx, frame.Payload)
	default:
		s.reject(signal, rejectUnknownSignal, nil)
		return
	}
	if err != nil {
		s.reject(signal, rejectReason(err), err)
	}
}

func (s *session) registerUser(ctx context.Context, payload json.RawMessage) error {
	userID, err := decodeOptionalID(payload)
	if err != nil {
		return err
	}
	if userID != "" && userID != s.userID {
		return errIdentityMismatch
	}
	return s.gateway.engine.RegisterConnection(ctx, s.userID, s.id)
}

func (s *session) joinWorkspace(ctx context.Context, payload json.RawMessage) error {
	workspaceID, err := decodeID(payload)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, workspaceID); err != nil {
		return err
	}
	return s.gateway.engine.JoinRoom(s.id, realtime.WorkspaceRoom(workspaceID))
}

func (s *session) leaveWorkspace(payload json.RawMessage) error {
	workspaceID, err := decodeID(payload)
	if err != nil {
		return err
	}
	s.gateway.engine.LeaveRoom(s.id, realtime.WorkspaceRoom(workspaceID))
	return nil
}

func (s *session) joinDocument(ctx context.Context, payload json.RawMessage) error {
	documentID, err := decodeID(payload)
	if err != nil {
		return err
	}
	_, err = s.gateway.relay.Join(ctx, s.id, s.userID, documentID)
	return err
}

func (s *session) leaveDocument(payload json.RawMessage) error {
	documentID, err := decodeID(payload)
	if err != nil {
		return err
	}
	s.gateway.relay.Leave(s.id, documentID)
	return nil
}

func (s *session) sendMessage(ctx context.Context, payload json.RawMessage) error {
	var request sendMessagePayload
	if err := json.Unmarshal(payload, &request); err != nil {
		return errMalformedPayload
	}
	if err := s.requireMember(ctx, request.WorkspaceID); err != nil {
		return err
	}
	_, err := s.gateway.messages.Send(ctx, request.WorkspaceID, s.userID, request.Content)
	return err
}

// requireMember is satisfied by any workspace when no access checker is wired.
func (s *session) requireMember(ctx context.Context, workspaceID string) error {
	if s.gateway.access == nil {
		return nil
	}
	allowed, err := s.gateway.access.IsMember(ctx, workspaceID, s.userID)
	if err != nil {
		return err
	}
	if !allowed {
		return serviceerr.ErrForbidden
	}
	return nil
}

func (s *session) documentChange(ctx context.Context, payload json.RawMessage) error {
	var request documentChangePayload
	if err := json.Unmarshal(payload, &request); err != nil || len(request.Delta) == 0 {
		return errMalformedPayload
	}
	_, err := s.gateway.relay.ApplyEdit(ctx, s.id, request.DocumentID, request.Delta)
	return err
}

func (s *session) reject(signal, reason string, err error) {
	s.gateway.metrics.SignalRejected(signal, reason)
	fields := []zap.Field{zap.String("signal", signal), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	switch reason {
	case rejectFailed:
		s.logger.Warn("signal rejected", fields...)
	case rejectRateLimited:
		s.logger.Debug("signal rejected", fields...)
	default:
		s.logger.Info("signal rejected", fields...)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, errMalformedPayload), errors.Is(err, serviceerr.ErrInvalidInput):
		return rejectMalformed
	case errors.Is(err, errIdentityMismatch):
		return rejectIdentityMismatch
	case errors.Is(err, serviceerr.ErrForbidden), errors.Is(err, serviceerr.ErrNotFound):
		return rejectForbidden
	case errors.Is(err, documents.ErrNotInRoom):
		return rejectNotInRoom
	default:
		return rejectFailed
	}
}

// decodeID accepts a bare JSON string or an object carrying an "id" field.
func decodeID(payload json.RawMessage) (string, error) {
	id, err := decodeOptionalID(payload)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errMalformedPayload
	}
	return id, nil
}

func decodeOptionalID(payload json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(payload, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var wrapped struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return "", errMalformedPayload
	}
	return strings.TrimSpace(wrapped.ID), nil
}
