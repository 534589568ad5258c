package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
)

func reading(id string) types.Reading {
	return types.Reading{SensorID: id, SensorType: types.SensorTemperature, Value: 21, Status: types.StatusNormal}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := NewReadings(5 * time.Minute)
	st.Put(reading("t-1"))

	e, ok := st.Get("t-1")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Reading.SensorID != "t-1" {
		t.Errorf("SensorID: got %q, want t-1", e.Reading.SensorID)
	}
	if e.Total != 1 || e.Warnings != 0 {
		t.Errorf("counters: got total=%d warnings=%d, want 1/0", e.Total, e.Warnings)
	}
}

func TestGet_Missing(t *testing.T) {
	st := NewReadings(5 * time.Minute)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestPut_OverwritesAndCounts(t *testing.T) {
	st := NewReadings(5 * time.Minute)
	warn := reading("t-1")
	warn.Value = 35
	warn.Status = types.StatusWarning

	st.Put(reading("t-1"))
	st.Put(warn)

	e, _ := st.Get("t-1")
	if e.Reading.Value != 35 {
		t.Errorf("Value: got %v, want 35", e.Reading.Value)
	}
	if e.Total != 2 || e.Warnings != 1 {
		t.Errorf("counters: got total=%d warnings=%d, want 2/1", e.Total, e.Warnings)
	}
}

func TestOnReading_Stores(t *testing.T) {
	st := NewReadings(time.Minute)
	if err := st.OnReading(context.Background(), reading("h-1")); err != nil {
		t.Fatalf("OnReading: %v", err)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	base := time.Now()
	st := NewReadings(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute)) // stale
	st.Put(reading("old"))

	st.now = fixedClock(base)
	st.Put(reading("zeta"))
	st.Put(reading("alpha"))

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].Reading.SensorID != "alpha" || entries[1].Reading.SensorID != "zeta" {
		t.Errorf("List order: got %q, %q", entries[0].Reading.SensorID, entries[1].Reading.SensorID)
	}
	if st.Count() != 3 {
		t.Errorf("Count includes stale: got %d, want 3", st.Count())
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := NewReadings(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(reading("old1"))
	st.Put(reading("old2"))

	st.now = fixedClock(base)
	st.Put(reading("live"))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestReadings_ConcurrentMixedOps(t *testing.T) {
	st := NewReadings(5 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Put(reading("src-a"))
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
	}
	wg.Wait()

	if e, _ := st.Get("src-a"); e.Total != 50 {
		t.Errorf("Total after concurrent puts: got %d, want 50", e.Total)
	}
}
