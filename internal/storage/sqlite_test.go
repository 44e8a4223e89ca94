package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"train_bot/internal/model"
)

var ignoreTimestamps = cmpopts.IgnoreFields(model.Subscription{}, "CreatedAt", "LastChecked")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSubscription(chatID int64) model.Subscription {
	return model.Subscription{
		ChatID:         chatID,
		Route:          model.Route{DepartureStation: "680", ArrivalStation: "3700"},
		Weekdays:       []time.Weekday{time.Sunday, time.Tuesday},
		DepartureTime:  "17:30",
		Prefs:          model.Preferences{OnDepartureSoon: true, OnDelayChange: true},
		DelayThreshold: 5,
		IsActive:       true,
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  model.Subscription
	}{
		{
			name: "basic subscription",
			sub:  testSubscription(100),
		},
		{
			name: "date window and paused",
			sub: func() model.Subscription {
				sub := testSubscription(200)
				sub.StartDate = &start
				sub.EndDate = &end
				sub.Paused = true
				sub.Prefs.OnArrival = true
				return sub
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := tt.sub
			if err := s.CreateSubscription(ctx, &sub); err != nil {
				t.Fatalf("create subscription: %v", err)
			}
			if sub.ID == 0 {
				t.Fatal("expected ID to be populated")
			}

			got, err := s.GetSubscription(ctx, sub.ID)
			if err != nil {
				t.Fatalf("get subscription: %v", err)
			}
			if diff := cmp.Diff(&sub, got, ignoreTimestamps); diff != "" {
				t.Errorf("subscription mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCreateSubscriptionValidates(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := testSubscription(100)
	sub.Weekdays = nil
	if err := s.CreateSubscription(ctx, &sub); err == nil {
		t.Fatal("expected validation error for empty weekday set")
	}
}

func TestListSubscriptionsByChat(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, chatID := range []int64{100, 100, 200} {
		sub := testSubscription(chatID)
		if err := s.CreateSubscription(ctx, &sub); err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	subs, err := s.ListSubscriptions(ctx, 100)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if diff := cmp.Diff(2, len(subs)); diff != "" {
		t.Errorf("count mismatch (-want +got):\n%s", diff)
	}
}

func TestListActiveDue(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	active := testSubscription(100)
	if err := s.CreateSubscription(ctx, &active); err != nil {
		t.Fatalf("create active: %v", err)
	}

	inactive := testSubscription(200)
	inactive.IsActive = false
	if err := s.CreateSubscription(ctx, &inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	ended := testSubscription(300)
	endDate := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	ended.EndDate = &endDate
	if err := s.CreateSubscription(ctx, &ended); err != nil {
		t.Fatalf("create ended: %v", err)
	}

	notStarted := testSubscription(400)
	startDate := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	notStarted.StartDate = &startDate
	if err := s.CreateSubscription(ctx, &notStarted); err != nil {
		t.Fatalf("create not started: %v", err)
	}

	startsTomorrow := testSubscription(500)
	tomorrow := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)
	startsTomorrow.StartDate = &tomorrow
	if err := s.CreateSubscription(ctx, &startsTomorrow); err != nil {
		t.Fatalf("create starts tomorrow: %v", err)
	}

	got, err := s.ListActiveDue(ctx, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("list active due: %v", err)
	}

	var ids []int64
	for _, sub := range got {
		ids = append(ids, sub.ChatID)
	}
	// The window [now, now+24h] covers today and tomorrow, so the
	// subscription starting tomorrow is a candidate too.
	want := []int64{100, 500}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestSetActiveSoftDeletes(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	sub := testSubscription(100)
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := s.SetActive(ctx, sub.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	due, err := s.ListActiveDue(ctx, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("list active due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("deactivated subscription still listed, got %d", len(due))
	}

	// The row survives for dispatch history linkage.
	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if got.IsActive {
		t.Error("expected IsActive=false")
	}
}

func TestSetPaused(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := testSubscription(100)
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := s.SetPaused(ctx, sub.ID, true); err != nil {
		t.Fatalf("set paused: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !got.Paused {
		t.Error("expected Paused=true")
	}
}

func TestUpdateStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := testSubscription(100)
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	delay := 7
	snap := model.StatusSnapshot{
		ScheduledDeparture: time.Date(2026, time.March, 2, 17, 30, 0, 0, time.UTC),
		ScheduledArrival:   time.Date(2026, time.March, 2, 18, 15, 0, 0, time.UTC),
		DelayMinutes:       &delay,
		Phase:              model.PhaseDepartingSoon,
		TransferStations:   []string{"4600"},
	}
	checkedAt := time.Date(2026, time.March, 2, 17, 20, 0, 0, time.UTC)

	if err := s.UpdateStatus(ctx, sub.ID, snap, checkedAt); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if got.LastStatus == nil {
		t.Fatal("expected LastStatus to be set")
	}
	if diff := cmp.Diff(&snap, got.LastStatus); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if got.LastChecked == nil || !got.LastChecked.Equal(checkedAt) {
		t.Errorf("LastChecked = %v, want %v", got.LastChecked, checkedAt)
	}
}

func TestDispatchRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := testSubscription(100)
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	now := time.Date(2026, time.March, 2, 17, 20, 0, 0, time.UTC)
	rec := model.DispatchRecord{
		SubscriptionID: sub.ID,
		Kind:           model.KindDelayIncreased,
		Message:        "delayed by 7 minutes",
		SentAt:         now,
	}
	if err := s.RecordDispatch(ctx, &rec); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected record ID to be populated")
	}

	tests := []struct {
		name        string
		kind        model.NotificationKind
		windowStart time.Time
		want        bool
	}{
		{
			name:        "same kind inside window",
			kind:        model.KindDelayIncreased,
			windowStart: now.Add(-10 * time.Minute),
			want:        true,
		},
		{
			name:        "different kind inside window",
			kind:        model.KindCancelled,
			windowStart: now.Add(-10 * time.Minute),
			want:        false,
		},
		{
			name:        "same kind outside window",
			kind:        model.KindDelayIncreased,
			windowStart: now.Add(10 * time.Minute),
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.HasRecentDispatch(ctx, sub.ID, tt.kind, tt.windowStart)
			if err != nil {
				t.Fatalf("has recent dispatch: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRecentDispatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListDispatchesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	sub := testSubscription(100)
	if err := s.CreateSubscription(ctx, &sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	base := time.Date(2026, time.March, 2, 17, 0, 0, 0, time.UTC)
	for i, kind := range []model.NotificationKind{
		model.KindDepartureImminent, model.KindDelayIncreased, model.KindArrived,
	} {
		rec := model.DispatchRecord{
			SubscriptionID: sub.ID,
			Kind:           kind,
			Message:        string(kind),
			SentAt:         base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordDispatch(ctx, &rec); err != nil {
			t.Fatalf("record dispatch: %v", err)
		}
	}

	recs, err := s.ListDispatches(ctx, sub.ID, 2)
	if err != nil {
		t.Fatalf("list dispatches: %v", err)
	}
	var kinds []model.NotificationKind
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	want := []model.NotificationKind{model.KindArrived, model.KindDelayIncreased}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}
