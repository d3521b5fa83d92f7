package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/auth"
	"portfoliochat/internal/transcript"
)

const defaultChatListLimit = 10

type loginRequest struct {
	Password string `json:"password"`
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	authToken, err := h.auth.Login(c.Request.Context(), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) || errors.Is(err, auth.ErrAdminDisabled) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidPassword.Error()})
			return
		}
		log.Printf("api: admin login failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"auth_token": authToken,
		"csrf_token": csrfToken,
	})
}

func (h *Handler) adminLogout(c *gin.Context) {
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			log.Printf("api: revoke admin token: %v", err)
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// listChats is the admin session browser: most recently active first.
func (h *Handler) listChats(c *gin.Context) {
	limit := queryLimit(c, defaultChatListLimit)
	convs, err := h.assistant.RecentConversations(c.Request.Context(), limit)
	if err != nil {
		log.Printf("api: list chats: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chats unavailable"})
		return
	}
	chats := make([]chatSummary, 0, len(convs))
	for _, conv := range convs {
		chats = append(chats, summarize(conv))
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) getChat(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	conv, err := h.assistant.Conversation(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		log.Printf("api: get chat %s: %v", sessionID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     summarize(*conv),
		"messages": h.assistant.History(c.Request.Context(), sessionID, queryLimit(c, 0)),
	})
}

func (h *Handler) postAdminMessage(c *gin.Context) {
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
	message, err := h.assistant.PostAdminMessage(c.Request.Context(), sessionID, req.Content)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}

type aiToggleRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) setAIActive(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	var req aiToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}
	state, err := h.assistant.SetAIActive(c.Request.Context(), sessionID, *req.Active)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		log.Printf("api: toggle ai for %s: %v", sessionID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "toggle failed, please retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"ai_active":  state.Flag(),
		"state":      state,
	})
}

// toggleAI is the one-click take over / hand back switch.
func (h *Handler) toggleAI(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	state, err := h.assistant.ToggleAI(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		log.Printf("api: toggle ai for %s: %v", sessionID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "toggle failed, please retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"ai_active":  state.Flag(),
		"state":      state,
	})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
