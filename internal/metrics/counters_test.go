package metrics

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestCountersConcurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Inc("processed")
			}
		}()
	}
	wg.Wait()

	if got := c.Get("processed"); got != 800 {
		t.Errorf("processed = %d, want 800", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := New()
	c.Add("sent", 3)
	snap := c.Snapshot()
	snap["sent"] = 99
	if c.Get("sent") != 3 {
		t.Error("snapshot mutation leaked")
	}
}

func TestNilCounters(t *testing.T) {
	var c *Counters
	c.Inc("x")
	if c.Get("x") != 0 || len(c.Snapshot()) != 0 {
		t.Error("nil counters should be inert")
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	c := New()
	c.Inc("drop_dup")
	c.Add("zero", 0)
	c.Log(slog.New(slog.NewTextHandler(&buf, nil)))

	out := buf.String()
	if !strings.Contains(out, "drop_dup=1") {
		t.Errorf("log = %q", out)
	}
	if strings.Contains(out, "zero=") {
		t.Errorf("zero counters should be omitted: %q", out)
	}
}
