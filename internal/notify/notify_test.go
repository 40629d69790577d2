package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestFanoutDeliversToEveryDispatcher(t *testing.T) {
	var a, b Recorder
	f := Fanout{&a, Nop{}, &b}

	f.Dispatch(context.Background(), Event{Kind: PingCreated, ListingID: "L42", Actor: "alice"})
	f.Dispatch(context.Background(), Event{Kind: PingAccepted, ListingID: "L42", Actor: "bob"})

	for name, r := range map[string]*Recorder{"a": &a, "b": &b} {
		kinds := r.Kinds()
		if len(kinds) != 2 || kinds[0] != PingCreated || kinds[1] != PingAccepted {
			t.Errorf("recorder %s got %v", name, kinds)
		}
	}
}

func TestMarshalEvent(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	body, err := marshalEvent(Event{
		Kind:       MessageSent,
		ListingID:  "L42",
		Actor:      "alice",
		Recipients: []string{"bob"},
		At:         at,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "message.sent" || decoded["listing_id"] != "L42" || decoded["actor"] != "alice" {
		t.Errorf("unexpected body %s", body)
	}
	if _, ok := decoded["payload"]; ok {
		t.Error("empty payload should be omitted")
	}
}
