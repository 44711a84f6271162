package fallback

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHistoryRecordAndSnapshot(t *testing.T) {
	h := NewHistory()

	for i := 0; i < 5; i++ {
		h.Record(Attempt{RequestID: fmt.Sprintf("req-%d", i), Timestamp: time.Now()})
	}

	if h.Len() != 5 {
		t.Fatalf("Len = %d, want 5", h.Len())
	}

	recent := h.Snapshot(3)
	if len(recent) != 3 {
		t.Fatalf("snapshot = %d entries, want 3", len(recent))
	}
	// Newest first.
	for i, want := range []string{"req-4", "req-3", "req-2"} {
		if recent[i].RequestID != want {
			t.Errorf("entry %d = %s, want %s", i, recent[i].RequestID, want)
		}
	}
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	h := NewHistory()

	for i := 0; i < historyCapacity+10; i++ {
		h.Record(Attempt{RequestID: fmt.Sprintf("req-%d", i)})
	}

	if h.Len() != historyCapacity {
		t.Fatalf("Len = %d, want %d", h.Len(), historyCapacity)
	}

	all := h.Snapshot(0)
	if len(all) != historyCapacity {
		t.Fatalf("snapshot = %d entries, want %d", len(all), historyCapacity)
	}
	if all[0].RequestID != fmt.Sprintf("req-%d", historyCapacity+9) {
		t.Errorf("newest = %s", all[0].RequestID)
	}
	if all[len(all)-1].RequestID != "req-10" {
		t.Errorf("oldest = %s, want req-10", all[len(all)-1].RequestID)
	}
}

func TestHistoryConcurrentAccess(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Record(Attempt{RequestID: fmt.Sprintf("g%d-%d", g, i)})
				h.Snapshot(10)
			}
		}(g)
	}
	wg.Wait()

	if h.Len() != historyCapacity {
		t.Errorf("Len = %d, want %d", h.Len(), historyCapacity)
	}
}
