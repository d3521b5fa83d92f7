// Package notify pages the admin when a visitor asks for live contact.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"portfoliochat/internal/config"
)

const defaultTimeout = 5 * time.Second

// Dispatcher sends one Telegram message per call. A dispatcher without
// credentials is disabled and never touches the network.
type Dispatcher struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Dispatcher{
		botToken:   strings.TrimSpace(cfg.BotToken),
		chatID:     strings.TrimSpace(cfg.ChatID),
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether credentials are configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.botToken != "" && d.chatID != ""
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify pages the admin about sessionID. Every failure is logged and reported
// as false; nothing is retried.
func (d *Dispatcher) Notify(ctx context.Context, visitorName, sessionID string) bool {
	if !d.Enabled() {
		log.Printf("notify: paging disabled, skipped session %s", sessionID)
		return false
	}
	if err := d.send(ctx, formatAlert(visitorName, sessionID)); err != nil {
		log.Printf("notify: page for session %s failed: %v", sessionID, err)
		return false
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: d.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", d.apiBase, d.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		// the url embeds the bot token; keep it out of logs
		return fmt.Errorf("post sendMessage: %w", redact(err, d.botToken))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram rejected message: %s", out.Description)
	}
	return nil
}

func formatAlert(visitorName, sessionID string) string {
	name := strings.TrimSpace(visitorName)
	if name == "" {
		name = "A visitor"
	}
	return fmt.Sprintf("%s wants to talk to you live.\nSession: %s\nJoin with ?id=%s", name, sessionID, sessionID)
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}
