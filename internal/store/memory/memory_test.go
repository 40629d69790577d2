package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace-backend/internal/clock"
	"marketplace-backend/internal/models"
	"marketplace-backend/internal/store"
)

func newStore() (*Store, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(clk), clk
}

func TestPendingPingIsUniquePerTriple(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	first := &models.Ping{ListingID: "L1", SenderUsername: "alice", ReceiverUsername: "bob", Message: "hi"}
	if err := s.Pings().Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := &models.Ping{ListingID: "L1", SenderUsername: "alice", ReceiverUsername: "bob", Message: "again"}
	if err := s.Pings().Insert(ctx, second); !errors.Is(err, store.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	if _, err := s.Pings().Respond(ctx, first.ID, models.PingDeclined, nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if err := s.Pings().Insert(ctx, second); err != nil {
		t.Fatalf("insert after decline: %v", err)
	}
}

func TestRespondComputesResponseTime(t *testing.T) {
	s, clk := newStore()
	ctx := context.Background()

	p := &models.Ping{ListingID: "L1", SenderUsername: "alice", ReceiverUsername: "bob", Message: "hi"}
	if err := s.Pings().Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	clk.Advance(90 * time.Minute)

	got, err := s.Pings().Respond(ctx, p.ID, models.PingAccepted, nil)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.ResponseTimeMinutes == nil || *got.ResponseTimeMinutes != 90 {
		t.Errorf("response_time_minutes = %v, want 90", got.ResponseTimeMinutes)
	}
	if _, err := s.Pings().Respond(ctx, p.ID, models.PingDeclined, nil); !errors.Is(err, store.ErrStaleStatus) {
		t.Errorf("second respond: expected ErrStaleStatus, got %v", err)
	}
}

func TestConversationUniqueForUnorderedPair(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	c := &models.Conversation{ListingID: "L1", ParticipantA: "bob", ParticipantB: "alice"}
	if err := s.Conversations().Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.ParticipantA != "alice" || c.ParticipantB != "bob" {
		t.Errorf("pair not canonical: %s, %s", c.ParticipantA, c.ParticipantB)
	}

	dup := &models.Conversation{ListingID: "L1", ParticipantA: "alice", ParticipantB: "bob"}
	if err := s.Conversations().Insert(ctx, dup); !errors.Is(err, store.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	found, err := s.Conversations().Find(ctx, "L1", "bob", "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != c.ID {
		t.Errorf("found %s, want %s", found.ID, c.ID)
	}
}

func TestAppendAssignsIncreasingTimestamps(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	c := &models.Conversation{ListingID: "L1", ParticipantA: "alice", ParticipantB: "bob"}
	if err := s.Conversations().Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The fake clock does not move, so the store has to break ties.
	var prev time.Time
	for i, text := range []string{"one", "two", "three"} {
		m := &models.Message{ChatID: c.ID, SenderUsername: "alice", Text: text}
		if err := s.Messages().Append(ctx, m); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i > 0 && !m.CreatedAt.After(prev) {
			t.Errorf("message %d created_at %v not after %v", i, m.CreatedAt, prev)
		}
		if m.Status != models.MessageSent {
			t.Errorf("message %d status = %s, want sent", i, m.Status)
		}
		prev = m.CreatedAt
	}

	got, _ := s.Conversations().GetByID(ctx, c.ID)
	if got.LastMessage != "three" {
		t.Errorf("last_message = %q, want %q", got.LastMessage, "three")
	}
}

func TestAdvanceIsForwardOnly(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	c := &models.Conversation{ListingID: "L1", ParticipantA: "alice", ParticipantB: "bob"}
	_ = s.Conversations().Insert(ctx, c)
	m := &models.Message{ChatID: c.ID, SenderUsername: "alice", Text: "hi"}
	_ = s.Messages().Append(ctx, m)

	if _, err := s.Messages().Advance(ctx, m.ID, models.MessageRead); err != nil {
		t.Fatalf("advance to read: %v", err)
	}
	if _, err := s.Messages().Advance(ctx, m.ID, models.MessageDelivered); !errors.Is(err, store.ErrStaleStatus) {
		t.Errorf("expected ErrStaleStatus moving backwards, got %v", err)
	}
}

func TestGrantUpsertAndDeleteAreIdempotent(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	g := models.PhoneUnlockGrant{Owner: "bob", UnlockedBy: "alice"}

	for i := 0; i < 2; i++ {
		if err := s.Grants().Upsert(ctx, g); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	list, _ := s.Grants().ListByOwner(ctx, "bob")
	if len(list) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(list))
	}
	for i := 0; i < 2; i++ {
		if err := s.Grants().Delete(ctx, "bob", "alice"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if ok, _ := s.Grants().Exists(ctx, "bob", "alice"); ok {
		t.Error("grant still exists after delete")
	}
}
