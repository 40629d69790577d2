package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(5 * time.Second)
	if c.Pending() != 1 {
		t.Fatalf("expected 1 pending waiter, got %d", c.Pending())
	}

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(5*time.Second))
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.Pending())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}
