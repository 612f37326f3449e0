package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/teamsync/backend/internal/auth"
	"github.com/teamsync/backend/internal/chat"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/files"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/serviceerr"
	"github.com/teamsync/backend/internal/tasks"
	"github.com/teamsync/backend/internal/workspaces"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "teamsync_user_id"
	userNameContextKey = "teamsync_user_name"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingTicketManager    = errors.New("realtime ticket dependency required")
	errMissingGateway          = errors.New("realtime gateway dependency required")
	errMissingDomainService    = errors.New("domain service dependency required")
)

// SessionValidator authenticates requests carrying a session JWT.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims to the canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// TicketManager issues and checks short-lived websocket tickets.
type TicketManager interface {
	Issue(ctx context.Context, userID string) (string, int64, error)
	Validate(ticket string) (string, error)
}

// RealtimeGateway takes over an authenticated websocket request.
type RealtimeGateway interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// Dependencies lists what the HTTP handler serves.
type Dependencies struct {
	Sessions       SessionValidator
	Users          UserResolver
	Tickets        TicketManager
	Gateway        RealtimeGateway
	Workspaces     *workspaces.Service
	Tasks          *tasks.Service
	Chat           *chat.Service
	Documents      *documents.Service
	Files          *files.Service
	Notifications  *notifications.Service
	Triggers       *notifications.Triggers
	Metrics        http.Handler
	AllowedOrigins []string
	EnforceAccess  bool
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the REST API, the realtime
// handshake and, when deps.Metrics is set, /metrics.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Tickets == nil {
		return nil, errMissingTicketManager
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Workspaces == nil || deps.Tasks == nil || deps.Chat == nil || deps.Documents == nil ||
		deps.Files == nil || deps.Notifications == nil || deps.Triggers == nil {
		return nil, errMissingDomainService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		users:         deps.Users,
		tickets:       deps.Tickets,
		gateway:       deps.Gateway,
		workspaces:    deps.Workspaces,
		tasks:         deps.Tasks,
		chat:          deps.Chat,
		documents:     deps.Documents,
		files:         deps.Files,
		notifications: deps.Notifications,
		triggers:      deps.Triggers,
		enforceAccess: deps.EnforceAccess,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.GET("/realtime/ws", handler.handleRealtimeSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/realtime/ticket", handler.handleIssueTicket)

	protected.POST("/workspaces", handler.handleCreateWorkspace)
	protected.GET("/workspaces/my", handler.handleListWorkspaces)
	protected.GET("/workspaces/:workspaceId", handler.handleGetWorkspace)
	protected.POST("/workspaces/:workspaceId/join", handler.handleJoinWorkspace)

	protected.POST("/tasks", handler.handleCreateTask)
	protected.GET("/tasks/:workspaceId", handler.handleListTasks)
	protected.PUT("/tasks/:taskId", handler.handleUpdateTask)
	protected.DELETE("/tasks/:taskId", handler.handleDeleteTask)

	protected.GET("/messages/:workspaceId", handler.handleListMessages)
	protected.POST("/messages", handler.handleSendMessage)
	protected.POST("/messages/bulk-delete", handler.handleBulkDeleteMessages)
	protected.DELETE("/messages/:messageId", handler.handleDeleteMessage)

	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/workspace/:workspaceId", handler.handleListDocuments)
	protected.GET("/documents/:documentId", handler.handleGetDocument)

	protected.POST("/files/:workspaceId", handler.handleRecordFile)
	protected.GET("/files/:workspaceId", handler.handleListFiles)
	protected.DELETE("/files/:fileId", handler.handleDeleteFile)

	protected.GET("/notifications/my", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.PUT("/notifications/mark-read/:notificationId", handler.handleMarkRead)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" && origin != "*" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions      SessionValidator
	users         UserResolver
	tickets       TicketManager
	gateway       RealtimeGateway
	workspaces    *workspaces.Service
	tasks         *tasks.Service
	chat          *chat.Service
	documents     *documents.Service
	files         *files.Service
	notifications *notifications.Service
	triggers      *notifications.Triggers
	enforceAccess bool
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, displayName, ok := h.authenticate(c)
	if !ok {
		return
	}
	c.Set(userIDContextKey, userID)
	c.Set(userNameContextKey, displayName)
	c.Next()
}

// authenticate validates the session and aborts the request on failure.
func (h *httpHandler) authenticate(c *gin.Context) (string, string, bool) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("user resolution failed", zap.String("subject", claims.Subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_resolution_failed"})
		return "", "", false
	}
	return userID, strings.TrimSpace(claims.UserDisplayName), true
}

func (h *httpHandler) actor(c *gin.Context) notifications.Actor {
	return notifications.Actor{ID: c.GetString(userIDContextKey), Name: c.GetString(userNameContextKey)}
}

// requireMember aborts with 403 unless the caller belongs to the workspace.
func (h *httpHandler) requireMember(c *gin.Context, workspaceID string) bool {
	if !h.enforceAccess {
		return true
	}
	allowed, err := h.workspaces.IsMember(c.Request.Context(), workspaceID, c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "workspaces.is_member", err)
		return false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, serviceerr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, serviceerr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, serviceerr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, serviceerr.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// notifyAfter logs a failed trigger. The primary write has already succeeded.
func (h *httpHandler) notifyAfter(trigger string, err error) {
	if err != nil {
		h.logger.Warn("notification trigger failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
