package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConfigConfigured(t *testing.T) {
	if (Config{}).Configured() {
		t.Error("empty config reported as configured")
	}
	if !(Config{Homeserver: "https://hs", UserID: "@bot:hs", AccessToken: "tok"}).Configured() {
		t.Error("full config reported as unconfigured")
	}
}

func TestSendNotice(t *testing.T) {
	var gotBody map[string]any
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt1"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Homeserver: srv.URL, UserID: "@botworker:example.com", AccessToken: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendNotice(context.Background(), "!audit:example.com", "bot started"); err != nil {
		t.Fatalf("SendNotice: %v", err)
	}

	if !strings.Contains(gotPath, "/rooms/!audit:example.com/send/m.room.message/") {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["msgtype"] != "m.notice" || gotBody["body"] != "bot started" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestSendNotice_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
	}))
	defer srv.Close()

	c, err := New(Config{Homeserver: srv.URL, UserID: "@botworker:example.com", AccessToken: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendNotice(context.Background(), "!audit:example.com", "x"); err == nil {
		t.Fatal("expected an error")
	}
}
