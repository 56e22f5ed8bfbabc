package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LifeNeedZoya/chat-backend/internal/auth"
	"github.com/LifeNeedZoya/chat-backend/internal/models"
	"github.com/LifeNeedZoya/chat-backend/internal/store"
	"github.com/LifeNeedZoya/chat-backend/internal/stream"
)

// Generator produces a streamed model response for a conversation,
// relaying fragments through the callback and returning the accumulated
// response text.
type Generator interface {
	StreamChat(ctx context.Context, messages []models.ChatMessage, onFragment func(string) error) (string, error)
}

// Handler wires HTTP routes to the store, the auth gate, and the
// generation client.
type Handler struct {
	store     *store.Service
	auth      *auth.Service
	generator Generator
	logger    *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(storeService *store.Service, authService *auth.Service, generator Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     storeService,
		auth:      authService,
		generator: generator,
		logger:    logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.healthCheck)

	api := router.Group("/api")
	authMW := h.auth.Middleware()

	users := api.Group("/users")
	users.POST("/", h.createUser)
	users.POST("/login", h.loginUser)
	users.GET("/me", authMW, h.currentUser)

	chat := api.Group("/chat", authMW)
	chat.POST("/stream", h.streamChat)
	chat.GET("/", h.listSessions)
	chat.GET("/session/:id", h.getSession)
	chat.DELETE("/session/:id", h.deleteSession)
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, "Up and Running")
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.CreateUser(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"name":  user.Name,
		"email": user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := h.auth.Encode(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"msg":          "Login successful",
	})
}

func (h *Handler) currentUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  user.Name,
		"email": user.Email,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessions, err := h.store.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	session, err := h.store.GetSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.store.SessionHistory(c.Request.Context(), userID, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"title":      session.Title,
		"created_at": session.CreatedAt,
		"messages":   messages,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if err := h.store.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type streamRequest struct {
	Messages []models.ChatMessage `json:"messages"`
	Session  int64                `json:"session"`
}

// streamChat runs the chat-completion pipeline: resolve-or-create session,
// reconstruct history, stream the generation as 0: frames, finish with a
// d: frame, then persist the turn. Once streaming has begun no failure is
// reported via HTTP status: generation errors become an in-band e: frame
// and persistence errors are logged and swallowed.
func (h *Handler) streamChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no messages provided"})
		return
	}
	ctx := c.Request.Context()

	var (
		session *models.ChatSession
		err     error
	)
	if req.Session != 0 {
		session, err = h.store.GetSession(ctx, userID, req.Session)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		// Committed before streaming begins so the id can be reported
		// to the client even if generation later fails.
		session, err = h.store.CreateSession(ctx, userID, "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	history, err := h.store.SessionHistory(ctx, userID, session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header(stream.ProtocolHeader, stream.ProtocolVersion)
	c.Header("x-session-id", strconv.FormatInt(session.ID, 10))
	c.Status(http.StatusOK)

	sw := stream.NewWriter(c.Writer, flusher)
	conversation := append(history, req.Messages...)
	full, err := h.generator.StreamChat(ctx, conversation, sw.Text)
	if err != nil {
		// Headers are already committed as a successful stream, so the
		// failure goes in-band. A write error here means the client is
		// gone; nothing left to tell it.
		_ = sw.Error(fmt.Sprintf("stream error: %v", err))
		return
	}
	if err := sw.Done("stop", session.ID); err != nil {
		return
	}

	// The client already holds the complete stream. Persistence must not
	// be cancellable by a disconnect at this point, and its failure never
	// reaches the client.
	persistCtx := context.WithoutCancel(ctx)
	last := req.Messages[len(req.Messages)-1]
	turn := models.ChatLog{
		UserID:    userID,
		SessionID: session.ID,
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: last.Content},
			{Role: models.RoleAssistant, Content: full},
		},
	}
	if _, err := h.store.InsertLog(persistCtx, turn); err != nil {
		h.logger.Error("persist chat log",
			zap.Int64("user_id", userID),
			zap.Int64("session_id", session.ID),
			zap.Error(err))
		return
	}
	if err := h.store.TouchSession(persistCtx, session.ID, time.Now().UTC()); err != nil {
		h.logger.Error("touch session",
			zap.Int64("session_id", session.ID),
			zap.Error(err))
	}
}
