package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-backend/internal/auth"
	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/notify"
	"marketplace-backend/internal/ratelimit"
	"marketplace-backend/internal/services"
	"marketplace-backend/internal/store/memory"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type testServer struct {
	app   *fiber.App
	store *memory.Store
	hub   *Hub
}

func newTestServer(t *testing.T, pingCapacity int) *testServer {
	t.Helper()
	log := zap.NewNop()
	clk := clock.Real()
	st := memory.New(clk)
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(clk), ratelimit.Options{
		Policies: map[ratelimit.Action]ratelimit.Policy{
			ratelimit.ActionPing:    {Capacity: pingCapacity, Window: time.Hour},
			ratelimit.ActionMessage: {Capacity: 100, Window: time.Minute},
		},
		FailureMode: ratelimit.FailClosed,
		Logger:      log,
	})
	if err != nil {
		t.Fatal(err)
	}

	hub := NewHub(log)
	notifier := notify.Fanout{notify.NewLogger(log), hub}
	validator := services.NewValidator(services.TextPolicy{MaxLength: 500})
	authenticator := auth.NewAuthenticator("test-secret", "test", time.Hour, 24*time.Hour)
	phones := services.NewPhoneService(st.Users(), st.Grants(), log)
	convs := services.NewConversationService(st.Conversations(), st.Messages(), log)

	app := fiber.New()
	app.Use(RequestLogger(log))
	Mount(app, Deps{
		Auth:          authenticator,
		Users:         services.NewUserService(st.Users(), authenticator, log),
		Conversations: convs,
		Phones:        phones,
		Pings: services.NewPingService(services.PingDeps{
			Pings: st.Pings(), Listings: st.Listings(), Users: st.Users(),
			Conversations: convs, Phones: phones, Limiter: limiter,
			Validator: validator, Notifier: notifier, Clock: clk, Logger: log,
		}),
		Messages: services.NewMessageService(services.MessageDeps{
			Conversations: st.Conversations(), Messages: st.Messages(), Limiter: limiter,
			Validator: validator, Notifier: notifier, Clock: clk, Logger: log,
		}),
		Hub:    hub,
		Logger: log,
	})
	st.AddListing(models.Listing{ID: "L42", OwnerUsername: "bob"})
	return &testServer{app: app, store: st, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	return resp, out
}

func (s *testServer) signUp(t *testing.T, username string, phone *string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/register", "", models.RegisterRequest{Username: username, Password: "password123", Phone: phone})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register %s: %d %v", username, resp.StatusCode, body)
	}
	resp, body = s.do(t, http.MethodPost, "/api/login", "", models.LoginRequest{Username: username, Password: "password123"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login %s: %d %v", username, resp.StatusCode, body)
	}
	return body["token"].(string)
}

func TestPingAcceptFlow(t *testing.T) {
	s := newTestServer(t, 10)
	phone := "+15550100"
	alice := s.signUp(t, "alice", nil)
	bob := s.signUp(t, "bob", &phone)

	resp, body := s.do(t, http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "Still available?"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create ping: %d %v", resp.StatusCode, body)
	}
	pingID := body["ping"].(map[string]interface{})["id"].(string)

	resp, body = s.do(t, http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "Hello?"})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("duplicate ping: %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/users/bob/phone", alice, nil)
	if resp.StatusCode != fiber.StatusOK || body["canShare"] != false || body["phone"] != nil {
		t.Fatalf("phone before accept: %d %v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodPatch, "/api/pings/"+pingID, alice, models.UpdatePingStatusRequest{Status: models.PingAccepted})
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("sender accepting: %d", resp.StatusCode)
	}
	resp, body = s.do(t, http.MethodPatch, "/api/pings/"+pingID, bob, models.UpdatePingStatusRequest{Status: models.PingAccepted})
	if resp.StatusCode != fiber.StatusOK || body["status"] != "accepted" {
		t.Fatalf("accept: %d %v", resp.StatusCode, body)
	}
	resp, _ = s.do(t, http.MethodPatch, "/api/pings/"+pingID, bob, models.UpdatePingStatusRequest{Status: models.PingDeclined})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("second answer: %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodGet, "/api/users/bob/phone", alice, nil)
	if body["canShare"] != true || body["phone"] != phone {
		t.Fatalf("phone after accept: %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/pings/"+pingID+"/conversation", bob, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("conversation: %d %v", resp.StatusCode, body)
	}
	convID := body["id"].(string)

	resp, body = s.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages", bob, models.SendMessageRequest{Text: "Yes it is"})
	if resp.StatusCode != fiber.StatusCreated || body["status"] != "sent" {
		t.Fatalf("send: %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "Great, when can I visit?"})
	if resp.StatusCode != fiber.StatusOK || body["folded"] != true || body["conversation_id"] != convID {
		t.Fatalf("follow-up: %d %v", resp.StatusCode, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	res, _ := s.app.Test(req, -1)
	var history []models.Message
	json.NewDecoder(res.Body).Decode(&history)
	if len(history) != 3 || history[2].Text != "Great, when can I visit?" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRateLimitedPingReturnsRetryAfter(t *testing.T) {
	s := newTestServer(t, 1)
	alice := s.signUp(t, "alice", nil)
	s.signUp(t, "bob", nil)

	req := models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "hi"}
	s.do(t, http.MethodPost, "/api/pings", alice, req)
	resp, body := s.do(t, http.MethodPost, "/api/pings", alice, req)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(fiber.HeaderRetryAfter) == "" {
		t.Error("missing Retry-After header")
	}
	if ms, ok := body["retry_after_ms"].(float64); !ok || ms <= 0 {
		t.Errorf("retry_after_ms = %v", body["retry_after_ms"])
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, 10)
	alice := s.signUp(t, "alice", nil)
	s.signUp(t, "bob", nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, "/api/pings/received", "", nil, fiber.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/pings/received", "garbage", nil, fiber.StatusUnauthorized},
		{"empty message", http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "  "}, fiber.StatusBadRequest},
		{"wrong receiver", http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "carol", Message: "hi"}, fiber.StatusBadRequest},
		{"unknown listing", http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L0", Receiver: "bob", Message: "hi"}, fiber.StatusNotFound},
		{"unknown ping", http.MethodGet, "/api/pings/nope", alice, nil, fiber.StatusNotFound},
		{"bad preference", http.MethodPut, "/api/profile/phone-preference", alice, models.SetPhonePreferenceRequest{Preference: "friends"}, fiber.StatusBadRequest},
		{"duplicate user", http.MethodPost, "/api/register", "", models.RegisterRequest{Username: "alice", Password: "password123"}, fiber.StatusBadRequest},
		{"wrong password", http.MethodPost, "/api/login", "", models.LoginRequest{Username: "alice", Password: "nope"}, fiber.StatusUnauthorized},
		{"plain http to ws", http.MethodGet, "/ws", "", nil, fiber.StatusUpgradeRequired},
		{"health", http.MethodGet, "/health", "", nil, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, tt.method, tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d %v", tt.want, resp.StatusCode, body)
			}
		})
	}
}

func TestPhoneGrantEndpoints(t *testing.T) {
	s := newTestServer(t, 10)
	phone := "+15550100"
	alice := s.signUp(t, "alice", nil)
	bob := s.signUp(t, "bob", &phone)

	_, body := s.do(t, http.MethodPost, "/api/pings", alice, models.CreatePingRequest{ListingID: "L42", Receiver: "bob", Message: "hi"})
	pingID := body["ping"].(map[string]interface{})["id"].(string)
	s.do(t, http.MethodPatch, "/api/pings/"+pingID, bob, models.UpdatePingStatusRequest{Status: models.PingAccepted})

	req := httptest.NewRequest(http.MethodGet, "/api/profile/phone-grants", nil)
	req.Header.Set("Authorization", "Bearer "+bob)
	res, _ := s.app.Test(req, -1)
	var grants []models.PhoneUnlockGrant
	json.NewDecoder(res.Body).Decode(&grants)
	if len(grants) != 1 || grants[0].UnlockedBy != "alice" {
		t.Fatalf("unexpected grants %+v", grants)
	}

	resp, _ := s.do(t, http.MethodDelete, "/api/profile/phone-grants/alice", bob, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	_, body = s.do(t, http.MethodGet, "/api/users/bob/phone", alice, nil)
	if body["canShare"] != false {
		t.Errorf("phone visible after revoke: %v", body)
	}

	resp, _ = s.do(t, http.MethodPut, "/api/profile/phone-preference", bob, models.SetPhonePreferenceRequest{Preference: models.PhoneEveryone})
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("set preference: %d", resp.StatusCode)
	}
	_, body = s.do(t, http.MethodGet, "/api/users/bob/phone", alice, nil)
	if body["canShare"] != true {
		t.Errorf("everyone preference not applied: %v", body)
	}
}

type fakeConn struct {
	frames []models.WSMessage
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	b, _ := json.Marshal(v)
	var m models.WSMessage
	json.Unmarshal(b, &m)
	f.frames = append(f.frames, m)
	return nil
}

func TestHubDispatch(t *testing.T) {
	hub := NewHub(zap.NewNop())
	aliceInRoom, bobElsewhere, carol := &fakeConn{}, &fakeConn{}, &fakeConn{}
	if !hub.Register("c1", "alice", aliceInRoom) {
		t.Error("first connection should report the user coming online")
	}
	hub.Register("c2", "bob", bobElsewhere)
	hub.Register("c3", "carol", carol)
	hub.Join("chat-1", "c1")

	msg := &models.Message{ID: "m1", ChatID: "chat-1", SenderUsername: "alice", Text: "hi", Status: models.MessageSent, CreatedAt: time.Now()}
	hub.Dispatch(context.Background(), notify.Event{Kind: notify.MessageSent, Actor: "alice", Recipients: []string{"bob"}, Payload: msg})

	if len(aliceInRoom.frames) != 1 || aliceInRoom.frames[0].Event != "chat" {
		t.Errorf("room member frames %+v", aliceInRoom.frames)
	}
	if len(bobElsewhere.frames) != 1 || bobElsewhere.frames[0].Event != "new_message" || bobElsewhere.frames[0].Room != "chat-1" {
		t.Errorf("recipient frames %+v", bobElsewhere.frames)
	}
	if len(carol.frames) != 0 {
		t.Errorf("bystander got %+v", carol.frames)
	}

	hub.Dispatch(context.Background(), notify.Event{Kind: notify.PingAccepted, Actor: "bob", Recipients: []string{"carol"}})
	if len(carol.frames) != 1 || carol.frames[0].Status != string(notify.PingAccepted) {
		t.Errorf("event frames %+v", carol.frames)
	}

	if !hub.Unregister("c1") || hub.IsUserOnline("alice") || hub.IsUserInRoom("alice", "chat-1") {
		t.Error("alice should be gone after her only connection closed")
	}
}

// stalledConn blocks every write until release is closed.
type stalledConn struct {
	started chan struct{}
	release chan struct{}
}

func (c *stalledConn) WriteJSON(interface{}) error {
	close(c.started)
	<-c.release
	return nil
}

func TestHubSlowClientDoesNotBlockRegistration(t *testing.T) {
	hub := NewHub(zap.NewNop())
	slow := &stalledConn{started: make(chan struct{}), release: make(chan struct{})}
	defer close(slow.release)
	hub.Register("c1", "alice", slow)
	hub.Join("chat-1", "c1")

	go hub.Broadcast("chat-1", models.WSMessage{Event: "chat"}, "")
	<-slow.started

	done := make(chan struct{})
	go func() {
		hub.Register("c2", "bob", &fakeConn{})
		hub.Join("chat-1", "c2")
		hub.Unregister("c2")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub bookkeeping waited on a stalled write")
	}
}
