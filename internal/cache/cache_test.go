package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"train_bot/internal/model"
)

func testOccurrence(dep string) model.Occurrence {
	return model.Occurrence{
		Route:     model.Route{DepartureStation: dep, ArrivalStation: "3700"},
		Departure: time.Date(2026, time.March, 2, 17, 30, 0, 0, time.UTC),
	}
}

func testSnapshot(delay int) model.StatusSnapshot {
	return model.StatusSnapshot{
		ScheduledDeparture: time.Date(2026, time.March, 2, 17, 30, 0, 0, time.UTC),
		ScheduledArrival:   time.Date(2026, time.March, 2, 18, 15, 0, 0, time.UTC),
		DelayMinutes:       &delay,
		Phase:              model.PhaseScheduled,
	}
}

func TestGetReturnsFreshEntry(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	c := New(8)
	c.SetNowFunc(func() time.Time { return now })

	occ := testOccurrence("680")
	want := testSnapshot(5)
	c.Put(occ, want, 5*time.Minute)

	got, ok := c.Get(occ)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestExpiredEntryTreatedAsAbsent(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	c := New(8)
	c.SetNowFunc(func() time.Time { return now })

	occ := testOccurrence("680")
	c.Put(occ, testSnapshot(5), 5*time.Minute)

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := c.Get(occ); ok {
		t.Fatal("expected expired entry to be absent")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("expired entry not removed, len = %d", got)
	}
}

func TestMissForUnknownOccurrence(t *testing.T) {
	c := New(8)
	if _, ok := c.Get(testOccurrence("680")); ok {
		t.Fatal("expected miss for unknown occurrence")
	}
}

func TestNonPositiveTTLNotStored(t *testing.T) {
	c := New(8)
	c.Put(testOccurrence("680"), testSnapshot(0), 0)
	if got := c.Len(); got != 0 {
		t.Errorf("zero-TTL entry stored, len = %d", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	c := New(4)
	c.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 8; i++ {
		c.Put(testOccurrence(fmt.Sprintf("station-%d", i)), testSnapshot(i), time.Hour)
	}

	if got := c.Len(); got != 4 {
		t.Fatalf("len = %d, want 4", got)
	}
	if _, ok := c.Get(testOccurrence("station-0")); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.Get(testOccurrence("station-7")); !ok {
		t.Error("expected newest entry to survive")
	}
}

func TestOverwriteReplacesWholesale(t *testing.T) {
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	c := New(8)
	c.SetNowFunc(func() time.Time { return now })

	occ := testOccurrence("680")
	c.Put(occ, testSnapshot(3), time.Minute)
	c.Put(occ, testSnapshot(12), time.Minute)

	got, ok := c.Get(occ)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Delay() != 12 {
		t.Errorf("delay = %d, want 12", got.Delay())
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}
