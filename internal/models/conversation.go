package models

import "time"

// PreviewLength bounds the excerpt kept on a conversation.
const PreviewLength = 50

const shortIDLength = 4

// Conversation carries the per-session metadata shown in the admin list.
type Conversation struct {
	SessionID   string    `json:"session_id"`
	Preview     string    `json:"preview"`
	AIActive    bool      `json:"ai_active"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// ShortID is the tail of the session id the admin list displays.
func (c Conversation) ShortID() string {
	runes := []rune(c.SessionID)
	if len(runes) <= shortIDLength {
		return c.SessionID
	}
	return string(runes[len(runes)-shortIDLength:])
}

// Preview truncates content to PreviewLength runes.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}
