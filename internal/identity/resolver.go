// Package identity assigns conversation ids to visiting clients.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// CookieName carries the id for the lifetime of the browser session.
const CookieName = "chat_session"

// QueryParam lets a link target a specific conversation.
const QueryParam = "id"

// NewID mints a fresh id; tests may replace it.
var NewID = uuid.NewString

// Resolve picks the conversation id for a client. A URL-supplied id wins and is
// adopted as-is, then an id the client already holds, then a freshly minted one.
func Resolve(existingLocalID, urlSuppliedID string) string {
	if id := strings.TrimSpace(urlSuppliedID); id != "" {
		return id
	}
	if id := strings.TrimSpace(existingLocalID); id != "" {
		return id
	}
	return NewID()
}
