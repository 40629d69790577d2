package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-backend/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Store:  "memory",
		Server: config.ServerConfig{Port: "0", JWTSecret: "secret", JWTIssuer: "test", TokenTTL: time.Hour, RefreshTTL: time.Hour},
		Log:    config.LogConfig{Level: "info"},
		RateLimit: config.RateLimitConfig{
			Backend:  "memory",
			FailMode: "closed",
			Ping:     config.LimitPolicy{Capacity: 10, Window: time.Hour},
			Message:  config.LimitPolicy{Capacity: 60, Window: time.Minute},
		},
		Messages: config.MessageConfig{MaxLength: 500},
	}
}

func TestNewWiresInMemoryServer(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	resp, err := srv.App.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("health: %d", resp.StatusCode)
	}
	if srv.Hub.IsUserOnline("alice") {
		t.Error("nobody should be online yet")
	}
}

func TestNewRejectsUnknownFailMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimit.FailMode = "sometimes"
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(config.LogConfig{Level: "debug", Development: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func call(t *testing.T, srv *Server, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.App.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestInMemoryServerAcceptsPingsOnSeededListings(t *testing.T) {
	cfg := memoryConfig()
	cfg.Listings = []config.ListingSeed{{ID: "L42", Owner: "bob"}}
	srv, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	tokens := map[string]string{}
	for _, name := range []string{"alice", "bob"} {
		creds := map[string]string{"username": name, "password": "password123"}
		if code, body := call(t, srv, http.MethodPost, "/api/register", "", creds); code != http.StatusCreated {
			t.Fatalf("register %s: %d %v", name, code, body)
		}
		_, body := call(t, srv, http.MethodPost, "/api/login", "", creds)
		tokens[name], _ = body["token"].(string)
	}

	ping := map[string]string{"listing_id": "L42", "receiver": "bob", "message": "Is it still available?"}
	if code, body := call(t, srv, http.MethodPost, "/api/pings", tokens["alice"], ping); code != http.StatusCreated {
		t.Fatalf("ping on seeded listing: %d %v", code, body)
	}
	ping["listing_id"] = "L0"
	if code, _ := call(t, srv, http.MethodPost, "/api/pings", tokens["alice"], ping); code != http.StatusNotFound {
		t.Errorf("ping on unknown listing: %d", code)
	}
}

func TestNewLogsRateLimitFailMode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := memoryConfig()
	cfg.RateLimit.FailMode = "open"
	srv, err := New(context.Background(), cfg, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	entries := logs.FilterMessage("rate limiter ready").All()
	if len(entries) != 1 {
		t.Fatalf("expected one limiter log line, got %d", len(entries))
	}
	if mode := entries[0].ContextMap()["fail_mode"]; mode != "open" {
		t.Errorf("fail_mode = %v, want open", mode)
	}
	if logs.FilterMessage("in-memory store has no listings, every ping will be rejected").Len() != 1 {
		t.Error("expected a warning about the empty listing directory")
	}
}
