package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/teamsync/backend/internal/auth"
	"github.com/teamsync/backend/internal/chat"
	"github.com/teamsync/backend/internal/database"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/files"
	"github.com/teamsync/backend/internal/gateway"
	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/presence"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/server"
	"github.com/teamsync/backend/internal/tasks"
	"github.com/teamsync/backend/internal/users"
	"github.com/teamsync/backend/internal/workspaces"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	jsonContentType      = "application/json"
)

type stack struct {
	server *httptest.Server
	engine *realtime.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	engine, err := realtime.NewEngine(realtime.EngineConfig{
		Registry: presence.NewMemoryRegistry(),
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	workspaceService, err := workspaces.NewService(workspaces.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("workspaces service: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:    db,
		IDProvider:  idProvider,
		Connections: engine,
		Metrics:     collector,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("notifications service: %v", err)
	}
	triggers := notifications.NewTriggers(notificationService, workspaceService, logger)
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:    db,
		IDProvider:  idProvider,
		Broadcaster: engine,
		Notifier:    triggers,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("tasks service: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:    db,
		IDProvider:  idProvider,
		Broadcaster: engine,
		Profiles:    userService,
		Notifier:    triggers,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("documents service: %v", err)
	}
	relay, err := documents.NewRelay(documents.RelayConfig{
		Store:   documentService,
		Rooms:   engine,
		Access:  workspaceService,
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	fileService, err := files.NewService(files.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("files service: %v", err)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		CookieName:    sessionCookieName,
	})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	tickets, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{SigningSecret: []byte(sessionSigningSecret)})
	if err != nil {
		t.Fatalf("ticket issuer: %v", err)
	}
	socketGateway, err := gateway.New(gateway.Config{
		Engine:     engine,
		Messages:   chatService,
		Relay:      relay,
		Access:     workspaceService,
		IDProvider: idProvider,
		Metrics:    collector,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessionValidator,
		Users:         userService,
		Tickets:       tickets,
		Gateway:       socketGateway,
		Workspaces:    workspaceService,
		Tasks:         taskService,
		Chat:          chatService,
		Documents:     documentService,
		Files:         fileService,
		Notifications: notificationService,
		Triggers:      triggers,
		Metrics:       metrics.Handler(registry),
		EnforceAccess: true,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &stack{server: testServer, engine: engine}
}

func mustMintSessionToken(t *testing.T, userID, displayName string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(sessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

func (s *stack) do(t *testing.T, method, path, token string, body any, target any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", jsonContentType)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if target != nil && response.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(response.Body).Decode(target); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func expectStatus(t *testing.T, got, want int, action string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected status %d, got %d", action, want, got)
	}
}

type idPayload struct {
	ID string `json:"id"`
}

type notificationItem struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Read bool   `json:"readStatus"`
}

func TestWorkspaceTaskAndNotificationFlow(t *testing.T) {
	s := newStack(t)
	alice := mustMintSessionToken(t, "user-a", "Alice")
	bob := mustMintSessionToken(t, "user-b", "Bob")
	carol := mustMintSessionToken(t, "user-c", "Carol")

	expectStatus(t, s.do(t, http.MethodGet, "/healthz", "", nil, nil), http.StatusOK, "healthz")
	expectStatus(t, s.do(t, http.MethodGet, "/workspaces/my", "", nil, nil), http.StatusUnauthorized, "anonymous list")

	var workspace idPayload
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces", alice, map[string]string{"name": "Apollo"}, &workspace), http.StatusCreated, "create workspace")
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces/"+workspace.ID+"/join", bob, nil, nil), http.StatusOK, "bob joins")
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces/"+workspace.ID+"/join", bob, nil, nil), http.StatusConflict, "bob joins twice")
	expectStatus(t, s.do(t, http.MethodGet, "/workspaces/"+workspace.ID, carol, nil, nil), http.StatusForbidden, "carol reads workspace")
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces/missing/join", carol, nil, nil), http.StatusNotFound, "join unknown workspace")

	var aliceNotifications []notificationItem
	expectStatus(t, s.do(t, http.MethodGet, "/notifications/my", alice, nil, &aliceNotifications), http.StatusOK, "alice notifications")
	if len(aliceNotifications) != 1 || aliceNotifications[0].Kind != string(notifications.KindWorkspaceJoined) {
		t.Fatalf("expected one workspace_joined notification for the owner, got %+v", aliceNotifications)
	}

	var task struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		AssignedTo string `json:"assignedTo"`
	}
	createTask := map[string]string{"workspace": workspace.ID, "title": "Ship it", "assignedTo": "user-b"}
	expectStatus(t, s.do(t, http.MethodPost, "/tasks", alice, createTask, &task), http.StatusCreated, "create task")
	if task.Status != string(tasks.StatusTodo) || task.AssignedTo != "user-b" {
		t.Fatalf("unexpected task: %+v", task)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/tasks", carol, createTask, nil), http.StatusForbidden, "outsider creates task")

	expectStatus(t, s.do(t, http.MethodPut, "/tasks/"+task.ID, bob, map[string]string{"status": "done"}, &task), http.StatusOK, "update task")
	if task.Status != string(tasks.StatusDone) {
		t.Fatalf("expected done status, got %s", task.Status)
	}
	expectStatus(t, s.do(t, http.MethodPut, "/tasks/"+task.ID, bob, map[string]string{"status": "archived"}, nil), http.StatusBadRequest, "invalid status")

	var bobNotifications []notificationItem
	expectStatus(t, s.do(t, http.MethodGet, "/notifications/my", bob, nil, &bobNotifications), http.StatusOK, "bob notifications")
	if len(bobNotifications) != 1 || bobNotifications[0].Kind != string(notifications.KindTaskAssigned) {
		t.Fatalf("expected one task_assigned notification, got %+v", bobNotifications)
	}

	var unread struct {
		Count int64 `json:"count"`
	}
	expectStatus(t, s.do(t, http.MethodGet, "/notifications/unread-count", bob, nil, &unread), http.StatusOK, "unread count")
	if unread.Count != 1 {
		t.Fatalf("expected one unread notification, got %d", unread.Count)
	}
	markPath := "/notifications/mark-read/" + bobNotifications[0].ID
	expectStatus(t, s.do(t, http.MethodPut, markPath, alice, nil, nil), http.StatusForbidden, "alice marks bob's notification")
	var marked notificationItem
	expectStatus(t, s.do(t, http.MethodPut, markPath, bob, nil, &marked), http.StatusOK, "bob marks notification")
	if !marked.Read {
		t.Fatalf("expected notification to be read")
	}
	expectStatus(t, s.do(t, http.MethodGet, "/notifications/unread-count", bob, nil, &unread), http.StatusOK, "unread count after mark")
	if unread.Count != 0 {
		t.Fatalf("expected no unread notifications, got %d", unread.Count)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/tasks/"+task.ID, alice, nil, nil), http.StatusOK, "delete task")
	expectStatus(t, s.do(t, http.MethodDelete, "/tasks/"+task.ID, alice, nil, nil), http.StatusNotFound, "delete task twice")

	var file idPayload
	upload := map[string]any{"name": "brief.pdf", "path": "uploads/brief.pdf", "size": 2048, "contentType": "application/pdf"}
	expectStatus(t, s.do(t, http.MethodPost, "/files/"+workspace.ID, bob, upload, &file), http.StatusCreated, "record file")
	expectStatus(t, s.do(t, http.MethodDelete, "/files/"+file.ID, alice, nil, nil), http.StatusForbidden, "non-uploader deletes file")
	expectStatus(t, s.do(t, http.MethodDelete, "/files/"+file.ID, bob, nil, nil), http.StatusOK, "uploader deletes file")

	metricsResponse, err := http.Get(s.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ := io.ReadAll(metricsResponse.Body)
	_ = metricsResponse.Body.Close()
	if !strings.Contains(string(body), "teamsync_notifications_persisted_total 3") {
		t.Fatalf("expected persisted notification counter in metrics output")
	}
}

func (s *stack) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/realtime/ws" + query
	conn, response, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial realtime socket: %v", err)
	}
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendSignal(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func awaitFrame(t *testing.T, conn *websocket.Conn, event realtime.EventName) realtime.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var frame realtime.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

func (s *stack) awaitRoom(t *testing.T, userID string, room realtime.RoomName) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		connectionID, ok, err := s.engine.LookupConnection(context.Background(), userID)
		if err == nil && ok && s.engine.IsMember(connectionID, room) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not join %s", userID, room)
}

func TestRealtimeChatAndDocumentFlow(t *testing.T) {
	s := newStack(t)
	alice := mustMintSessionToken(t, "user-a", "Alice")
	bob := mustMintSessionToken(t, "user-b", "Bob")

	var workspace idPayload
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces", alice, map[string]string{"name": "Apollo"}, &workspace), http.StatusCreated, "create workspace")
	expectStatus(t, s.do(t, http.MethodPost, "/workspaces/"+workspace.ID+"/join", bob, nil, nil), http.StatusOK, "bob joins")

	var ticket struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int64  `json:"expires_in"`
	}
	expectStatus(t, s.do(t, http.MethodPost, "/realtime/ticket", alice, nil, &ticket), http.StatusOK, "issue ticket")
	if ticket.Ticket == "" || ticket.ExpiresIn <= 0 {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}

	aliceSocket := s.dial(t, "?ticket="+ticket.Ticket, nil)
	bobSocket := s.dial(t, "", http.Header{"Cookie": []string{sessionCookieName + "=" + bob}})

	room := realtime.WorkspaceRoom(workspace.ID)
	for _, conn := range []*websocket.Conn{aliceSocket, bobSocket} {
		sendSignal(t, conn, gateway.SignalRegisterUser, nil)
		sendSignal(t, conn, gateway.SignalJoinWorkspace, workspace.ID)
	}
	s.awaitRoom(t, "user-a", room)
	s.awaitRoom(t, "user-b", room)

	sendSignal(t, bobSocket, gateway.SignalSendMessage, map[string]string{"workspace": workspace.ID, "content": "hello"})

	for _, conn := range []*websocket.Conn{aliceSocket, bobSocket} {
		frame := awaitFrame(t, conn, realtime.EventReceiveMessage)
		var message realtime.ChatMessage
		if err := json.Unmarshal(frame.Payload, &message); err != nil {
			t.Fatalf("decode chat message: %v", err)
		}
		if message.Content != "hello" || message.Sender.ID != "user-b" || message.Sender.DisplayName != "Bob" {
			t.Fatalf("unexpected chat message: %+v", message)
		}
	}
	notification := awaitFrame(t, aliceSocket, realtime.EventNewNotification)
	var payload realtime.NotificationPayload
	if err := json.Unmarshal(notification.Payload, &payload); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if payload.Kind != string(notifications.KindChatMessage) || payload.RecipientID != "user-a" {
		t.Fatalf("unexpected notification: %+v", payload)
	}

	var document idPayload
	createDocument := map[string]string{"workspace": workspace.ID, "title": "Roadmap"}
	expectStatus(t, s.do(t, http.MethodPost, "/documents", alice, createDocument, &document), http.StatusCreated, "create document")
	awaitFrame(t, bobSocket, realtime.EventNewNotification)

	documentRoom := realtime.DocumentRoom(document.ID)
	sendSignal(t, aliceSocket, gateway.SignalJoinDocument, document.ID)
	sendSignal(t, bobSocket, gateway.SignalJoinDocument, document.ID)
	s.awaitRoom(t, "user-a", documentRoom)
	s.awaitRoom(t, "user-b", documentRoom)

	delta := map[string]any{"ops": []any{map[string]string{"insert": "Hello team"}}}
	sendSignal(t, aliceSocket, gateway.SignalDocumentChange, map[string]any{"documentId": document.ID, "delta": delta})

	update := awaitFrame(t, bobSocket, realtime.EventDocumentUpdate)
	if !strings.Contains(string(update.Payload), "Hello team") {
		t.Fatalf("unexpected document update: %s", update.Payload)
	}

	var stored struct {
		Content json.RawMessage `json:"content"`
	}
	expectStatus(t, s.do(t, http.MethodGet, "/documents/"+document.ID, bob, nil, &stored), http.StatusOK, "get document")
	if string(stored.Content) != `{"ops":[{"insert":"Hello team"}]}` {
		t.Fatalf("expected persisted delta, got %s", stored.Content)
	}

	var history []realtime.ChatMessage
	expectStatus(t, s.do(t, http.MethodGet, "/messages/"+workspace.ID, alice, nil, &history), http.StatusOK, "message history")
	if len(history) != 1 {
		t.Fatalf("expected one stored message, got %d", len(history))
	}
	expectStatus(t, s.do(t, http.MethodDelete, "/messages/"+history[0].ID, alice, nil, nil), http.StatusForbidden, "non-sender deletes message")
	expectStatus(t, s.do(t, http.MethodDelete, "/messages/"+history[0].ID, bob, nil, nil), http.StatusOK, "sender deletes message")
	deleted := awaitFrame(t, aliceSocket, realtime.EventMessageDeleted)
	if string(deleted.Payload) != `"`+history[0].ID+`"` {
		t.Fatalf("unexpected message_deleted payload: %s", deleted.Payload)
	}
}

func TestRealtimeSocketRejectsInvalidTicket(t *testing.T) {
	s := newStack(t)
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/realtime/ws?ticket=forged"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", response)
	}
	_ = response.Body.Close()
}
