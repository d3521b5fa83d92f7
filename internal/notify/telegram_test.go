package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"portfoliochat/internal/config"
)

func TestNotifyDelivers(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher(config.NotifyConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL})
	if !d.Notify(context.Background(), "Ada", "session-1") {
		t.Fatalf("expected delivery")
	}
	if got.ChatID != "42" {
		t.Fatalf("unexpected chat id %q", got.ChatID)
	}
	if !strings.Contains(got.Text, "Ada") || !strings.Contains(got.Text, "session-1") {
		t.Fatalf("alert missing details: %q", got.Text)
	}
}

func TestNotifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()
	d := NewDispatcher(config.NotifyConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL})
	if d.Notify(context.Background(), "", "s") {
		t.Fatalf("ok:false must report failure")
	}
}

func TestNotifyServerErrorNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	d := NewDispatcher(config.NotifyConfig{BotToken: "TOKEN", ChatID: "42", APIBase: srv.URL})
	if d.Notify(context.Background(), "", "s") {
		t.Fatalf("5xx must report failure")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one attempt, got %d", n)
	}
}

func TestNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()
	d := NewDispatcher(config.NotifyConfig{BotToken: "TOKEN", ChatID: "42", APIBase: base, TimeoutSeconds: 1})
	if d.Notify(context.Background(), "", "s") {
		t.Fatalf("unreachable endpoint must report failure")
	}
}

func TestNotifyDisabledWithoutCredentials(t *testing.T) {
	d := NewDispatcher(config.NotifyConfig{})
	if d.Enabled() {
		t.Fatalf("dispatcher without credentials should be disabled")
	}
	if d.Notify(context.Background(), "", "s") {
		t.Fatalf("disabled dispatcher must report failure")
	}
}

func TestRedactHidesToken(t *testing.T) {
	err := redact(errFake("post https://api/botSECRET/sendMessage failed"), "SECRET")
	if strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("token leaked: %v", err)
	}
}

type errFake string

func (e errFake) Error() string { return string(e) }
