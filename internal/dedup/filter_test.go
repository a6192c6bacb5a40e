package dedup

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestFilter(window time.Duration, maxSize int) (*Filter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(window, maxSize, clock), clock
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Ищу   Трансфер\n\tв Кемер ", "ищу трансфер в кемер"},
		{"ABC", "abc"},
		{"   ", ""},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := Normalize(got); again != got {
			t.Errorf("Normalize not idempotent: %q -> %q", got, again)
		}
	}
}

// TestWindowScenario: t=0 passes, t=300 is dropped, t=700 passes again.
func TestWindowScenario(t *testing.T) {
	f, clock := newTestFilter(600*time.Second, 100)

	if f.ShouldDrop("Нужен трансфер в Кемер") {
		t.Fatal("first sighting dropped")
	}
	clock.Advance(300 * time.Second)
	if !f.ShouldDrop("нужен   трансфер в кемер") {
		t.Fatal("repeat within window passed")
	}
	clock.Advance(400 * time.Second)
	if f.ShouldDrop("Нужен трансфер в Кемер") {
		t.Fatal("repeat after window dropped")
	}
}

func TestDifferentTextsPass(t *testing.T) {
	f, _ := newTestFilter(time.Minute, 100)
	if f.ShouldDrop("один") || f.ShouldDrop("два") {
		t.Error("distinct texts dropped")
	}
}

func TestBlankNeverDuplicate(t *testing.T) {
	f, _ := newTestFilter(time.Minute, 100)
	f.ShouldDrop("   ")
	if f.ShouldDrop("") {
		t.Error("blank text treated as duplicate")
	}
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}
}

func TestDisabledWindow(t *testing.T) {
	f, _ := newTestFilter(0, 100)
	f.ShouldDrop("same")
	if f.ShouldDrop("same") {
		t.Error("disabled filter dropped a repeat")
	}
}

func TestSizeBoundEvictsOldest(t *testing.T) {
	f, clock := newTestFilter(time.Hour, 3)

	for i := 0; i < 5; i++ {
		f.ShouldDrop(fmt.Sprintf("text %d", i))
		clock.Advance(time.Second)
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}
	if f.ShouldDrop("text 0") {
		t.Error("evicted text still treated as duplicate")
	}
	if !f.ShouldDrop("text 4") {
		t.Error("newest text forgotten")
	}
}

func TestPurgeExpired(t *testing.T) {
	f, clock := newTestFilter(time.Minute, 100)
	f.ShouldDrop("a")
	f.ShouldDrop("b")
	clock.Advance(2 * time.Minute)
	f.ShouldDrop("c")
	if f.Len() != 1 {
		t.Errorf("Len = %d, want 1 after purge", f.Len())
	}
}
