package api

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/auth"
	"portfoliochat/internal/identity"
	"portfoliochat/internal/live"
	"portfoliochat/internal/models"
	"portfoliochat/internal/service/assistant"
	"portfoliochat/internal/transcript"
	"portfoliochat/internal/worker"
)

const maxListLimit = 200

// Handler wires HTTP routes to the assistant service, admin auth and the live view.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	syncer    *live.Syncer
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, authService *auth.Service, syncer *live.Syncer) *Handler {
	return &Handler{
		assistant: service,
		auth:      authService,
		syncer:    syncer,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/session", h.resolveSession)

	chats := api.Group("/chats/:session_id")
	chats.GET("/messages", h.getMessages)
	chats.POST("/messages", h.postMessage)
	chats.POST("/contact", h.requestContact)
	chats.GET("/live", h.liveView)

	admin := api.Group("/admin")
	admin.POST("/login", h.adminLogin)
	adminRoutes := admin.Group("")
	adminRoutes.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	adminRoutes.POST("/logout", h.adminLogout)
	adminRoutes.GET("/chats", h.listChats)
	adminRoutes.GET("/chats/:session_id", h.getChat)
	adminRoutes.POST("/chats/:session_id/messages", h.postAdminMessage)
	adminRoutes.PUT("/chats/:session_id/ai", h.setAIActive)
	adminRoutes.POST("/chats/:session_id/ai/toggle", h.toggleAI)
}

// resolveSession hands the client its conversation id and current transcript.
func (h *Handler) resolveSession(c *gin.Context) {
	existing, _ := c.Cookie(identity.CookieName)
	sessionID := identity.Resolve(existing, c.Query(identity.QueryParam))
	setCookie(c, &http.Cookie{
		Name:     identity.CookieName,
		Value:    sessionID,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	messages := h.assistant.History(c.Request.Context(), sessionID, 0)
	resp := gin.H{
		"session_id": sessionID,
		"messages":   messages,
	}
	if len(messages) == 0 {
		if greeting := h.assistant.Greeting(); greeting != "" {
			resp["greeting"] = greeting
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getMessages(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	limit := queryLimit(c, 0)
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   h.assistant.History(c.Request.Context(), sessionID, limit),
	})
}

type contentRequest struct {
	Content string `json:"content"`
}

// postMessage stores the visitor's message and streams the reply back as
// server-sent events.
func (h *Handler) postMessage(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		return
	}
	message, err := h.assistant.PostVisitorMessage(c.Request.Context(), sessionID, req.Content)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	stream, err := newEventStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := stream.send("ack", gin.H{"message": message}); err != nil {
		return
	}

	reply, decision, err := h.assistant.Reply(c.Request.Context(), sessionID, func(chunk string) error {
		return stream.send("stream", gin.H{"content": chunk})
	})
	switch {
	case err != nil:
		if c.Request.Context().Err() != nil {
			return
		}
		log.Printf("api: reply for %s failed: %v", sessionID, err)
		_ = stream.send("error", gin.H{"message": replyErrorMessage(err)})
	case reply == nil:
		_ = stream.send("skipped", gin.H{"reason": decision.Reason, "state": decision.State})
	default:
		_ = stream.send("done", gin.H{"message": reply})
	}
}

func replyErrorMessage(err error) string {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return "server is busy, please retry"
	case errors.Is(err, assistant.ErrEmptyReply):
		return "the assistant had nothing to say, please rephrase"
	default:
		return "the assistant is unavailable right now"
	}
}

type contactRequest struct {
	Name string `json:"name"`
}

// requestContact pages the admin. The outcome is reported, never raised.
func (h *Handler) requestContact(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	var req contactRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	delivered := h.assistant.RequestContact(c.Request.Context(), sessionID, req.Name)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func sessionParam(c *gin.Context) (string, bool) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return "", false
	}
	return sessionID, true
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n
}

// writeStoreError maps a failed append onto a response: bad input is the
// caller's fault, anything else means the store is unavailable.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transcript.ErrEmptyContent),
		errors.Is(err, transcript.ErrEmptySessionID),
		errors.Is(err, transcript.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("api: store write failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message could not be saved, please retry"})
	}
}

type chatSummary struct {
	SessionID   string `json:"session_id"`
	ShortID     string `json:"short_id"`
	Preview     string `json:"preview"`
	AIActive    bool   `json:"ai_active"`
	LastUpdated string `json:"last_updated"`
	Link        string `json:"link"`
}

func summarize(conv models.Conversation) chatSummary {
	return chatSummary{
		SessionID:   conv.SessionID,
		ShortID:     conv.ShortID(),
		Preview:     conv.Preview,
		AIActive:    conv.AIActive,
		LastUpdated: conv.LastUpdated.Format("2006-01-02 15:04:05"),
		Link:        "/?" + identity.QueryParam + "=" + url.QueryEscape(conv.SessionID),
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
