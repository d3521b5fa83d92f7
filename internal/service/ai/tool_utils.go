package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	lookupRateLimit   = 5
	lookupRateWindow  = time.Minute
	lookupHTTPTimeout = 10 * time.Second
	lookupMaxBody     = 512 * 1024
	// lookupMaxResult bounds what a fetched page adds to the model context.
	lookupMaxResult = 8000
)

type toolSessionContextKey struct{}

// toolRateLimiter is a sliding-window counter keyed by conversation.
type toolRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
	now    func() time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time), now: time.Now}
}

func (l *toolRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}

// WithToolSession tags ctx with the conversation a tool call belongs to.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, sessionID)
}

func ToolSessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(toolSessionContextKey{}).(string)
	return sessionID, ok && sessionID != ""
}

// fetchURL downloads a page the visitor linked and returns its text, tags
// stripped and whitespace collapsed.
func (l *lookupTool) fetchURL(ctx context.Context, target string) (string, error) {
	client := l.httpClient
	if client == nil {
		client = &http.Client{Timeout: lookupHTTPTimeout}
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "portfoliochat-lookup/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/") {
		return "", fmt.Errorf("fetch url: unsupported content type %s", ct)
	}
	text, err := pageText(io.LimitReader(resp.Body, lookupMaxBody))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	if text == "" {
		return "", errors.New("fetch url: page has no text")
	}
	return text, nil
}

// pageText keeps the readable text of an HTML or plain-text page, whitespace
// collapsed and capped at lookupMaxResult runes.
func pageText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, svg").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if runes := []rune(text); len(runes) > lookupMaxResult {
		text = string(runes[:lookupMaxResult])
	}
	return text, nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
