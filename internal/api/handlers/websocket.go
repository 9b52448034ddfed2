package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"charity-service/internal/models"
	"charity-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type HandshakeAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (ws.Identity, error)
}

type ConnectionServer interface {
	Serve(ctx context.Context, id ws.Identity, transport ws.Transport) error
}

type WSHandlerConfig struct {
	AllowedOrigins []string
	// AllowAnyOrigin disables the origin check, used outside production
	AllowAnyOrigin bool
	MaxMessageSize int64
}

type WSHandler struct {
	auth     HandshakeAuthenticator
	server   ConnectionServer
	upgrader websocket.Upgrader
	cfg      WSHandlerConfig
	// ctx outlives requests and is cancelled on shutdown
	ctx    context.Context
	logger *slog.Logger
}

func NewWSHandler(ctx context.Context, auth HandshakeAuthenticator, server ConnectionServer, cfg WSHandlerConfig, logger *slog.Logger) *WSHandler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &WSHandler{
		auth:   auth,
		server: server,
		cfg:    cfg,
		ctx:    ctx,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowAnyOrigin || lo.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return lo.Contains(h.cfg.AllowedOrigins, origin)
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a WebSocket connection for realtime community events
// @Tags websocket
// @Param token query string false "Access token, alternatively sent as a Bearer Authorization header"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 401 {object} models.ErrorResponse "Missing, invalid or expired token"
// @Failure 503 {object} models.ErrorResponse "Connection limit reached"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	credential := c.Query("token")
	if credential == "" {
		credential = c.GetHeader("Authorization")
	}

	identity, err := h.auth.Authenticate(c.Request.Context(), credential)
	if err != nil {
		h.rejectHandshake(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Warn("WebSocket upgrade failed", "userID", identity.UserID, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	go func() {
		if err := h.server.Serve(h.ctx, identity, conn); err != nil && !errors.Is(err, ws.ErrConnectionClosed) {
			h.logger.Warn("WebSocket session ended with error", "userID", identity.UserID, "error", err)
		}
	}()
}

func (h *WSHandler) rejectHandshake(c *gin.Context, err error) {
	reason := ws.FailureReason(err)

	var capErr *ws.CapacityError
	if errors.As(err, &capErr) {
		h.logger.Warn("WebSocket connection rejected", "reason", reason, "current", capErr.Current, "max", capErr.Max)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.NewErrorResponse(http.StatusServiceUnavailable, "Server at capacity").WithDetails(string(reason)))
		return
	}

	h.logger.Info("WebSocket authentication failed", "reason", reason, "remoteAddr", c.ClientIP(), "error", err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.NewErrorResponse(http.StatusUnauthorized, authFailureMessage(reason)).WithDetails(string(reason)))
}

func authFailureMessage(reason ws.AuthFailure) string {
	switch reason {
	case ws.ReasonMissingCredential:
		return "Authentication token required"
	case ws.ReasonExpiredCredential:
		return "Authentication token expired"
	case ws.ReasonUserNotFound:
		return "User not found"
	case ws.ReasonUserInactive:
		return "User account is deactivated"
	default:
		return "Invalid authentication token"
	}
}
