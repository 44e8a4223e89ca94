// Package scheduler drives the polling loop: it decides which subscriptions
// are due, fetches status once per train occurrence, and hands detected
// changes to the dispatcher.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"train_bot/internal/cache"
	"train_bot/internal/detector"
	"train_bot/internal/dispatcher"
	"train_bot/internal/model"
	"train_bot/internal/provider"
	"train_bot/internal/storage"
)

// Provider is the interface for fetching current train status.
type Provider interface {
	FetchStatus(ctx context.Context, route model.Route, scheduledTime time.Time) (*model.StatusSnapshot, error)
}

// Dispatcher is the interface for delivering notification events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.NotificationEvent) (dispatcher.Outcome, error)
}

// Config tunes the polling loop.
type Config struct {
	TickInterval       time.Duration // default 1m
	Lookahead          time.Duration // default 24h
	InTransitGrace     time.Duration // default 3h
	MaxConcurrentFetch int           // default 4
	DelayThreshold     int           // fallback for subscriptions without an explicit threshold, default 5
	FailureThreshold   int           // failing occurrences per tick that open the cooldown, default 3
	CooldownBase       time.Duration // default 2m
	CooldownMax        time.Duration // default 15m
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 24 * time.Hour
	}
	if c.InTransitGrace <= 0 {
		c.InTransitGrace = 3 * time.Hour
	}
	if c.MaxConcurrentFetch <= 0 {
		c.MaxConcurrentFetch = 4
	}
	if c.DelayThreshold <= 0 {
		c.DelayThreshold = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 2 * time.Minute
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 15 * time.Minute
	}
	return c
}

// Scheduler periodically checks subscribed routes and pushes notifications.
type Scheduler struct {
	store    storage.Storage
	provider Provider
	cache    *cache.DelayCache
	dispatch Dispatcher
	log      *slog.Logger
	cfg      Config
	now      func() time.Time

	// Cooldown state is only touched from the tick loop goroutine; ticks
	// never overlap, so no locking is needed.
	cooldownUntil time.Time
	cooldown      time.Duration
}

// New creates a Scheduler.
func New(store storage.Storage, p Provider, c *cache.DelayCache, d Dispatcher, log *slog.Logger, cfg Config) *Scheduler {
	if c == nil {
		c = cache.New(0)
	}
	return &Scheduler{
		store:    store,
		provider: p,
		cache:    c,
		dispatch: d,
		log:      log,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Run starts the polling loop, blocking until ctx is cancelled. Ticks run
// serially on this goroutine: a tick that outlasts the interval simply
// delays the next one, so two ticks can never evaluate concurrently.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RunOnce performs a single polling pass, for one-shot (cron-style) runs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx)
}

type occurrenceGroup struct {
	occ  model.Occurrence
	subs []model.Subscription
}

type tickStats struct {
	mu          sync.Mutex
	failures    int
	rateLimited bool
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if now.Before(s.cooldownUntil) {
		s.log.Debug("tick skipped, provider cooldown active",
			"until", s.cooldownUntil.Format(time.RFC3339))
		return
	}

	subs, err := s.store.ListActiveDue(ctx, now, s.cfg.Lookahead)
	if err != nil {
		s.log.Error("list due subscriptions", "error", err)
		return
	}

	groups := s.groupDue(subs, now)
	if len(groups) == 0 {
		return
	}
	s.log.Debug("tick", "candidates", len(subs), "due_occurrences", len(groups))

	var stats tickStats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentFetch)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			s.processGroup(gctx, grp, &stats)
			return nil
		})
	}
	_ = g.Wait()

	s.noteTickHealth(stats.failures, stats.rateLimited)
}

// groupDue selects subscriptions due for a check now and groups them by
// occurrence, so each distinct train is fetched once per tick no matter how
// many subscribers share it.
func (s *Scheduler) groupDue(subs []model.Subscription, now time.Time) []occurrenceGroup {
	byKey := map[string]*occurrenceGroup{}
	var order []string
	for _, sub := range subs {
		occ, ok := sub.NextOccurrence(now, s.cfg.Lookahead, s.cfg.InTransitGrace)
		if !ok {
			continue
		}
		// A terminal snapshot for this same occurrence ends its polling.
		if sub.LastStatus != nil && sub.LastStatus.Phase.Terminal() &&
			sub.LastStatus.ScheduledDeparture.Equal(occ.Departure) {
			continue
		}
		if sub.LastChecked != nil && now.Sub(*sub.LastChecked) < cadence(occ.Departure.Sub(now)) {
			continue
		}
		key := occ.Key()
		grp, ok := byKey[key]
		if !ok {
			grp = &occurrenceGroup{occ: occ}
			byKey[key] = grp
			order = append(order, key)
		}
		grp.subs = append(grp.subs, sub)
	}
	groups := make([]occurrenceGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	return groups
}

// processGroup resolves one occurrence via cache-then-provider and applies
// the result to every subscriber in the group. On provider failure the
// subscriptions keep their previous state so the next tick retries them.
func (s *Scheduler) processGroup(ctx context.Context, grp occurrenceGroup, stats *tickStats) {
	occ := grp.occ
	snap, hit := s.cache.Get(occ)
	if !hit {
		fetched, err := s.provider.FetchStatus(ctx, occ.Route, occ.Departure)
		if err != nil {
			stats.mu.Lock()
			stats.failures++
			if provider.IsKind(err, provider.KindRateLimited) {
				stats.rateLimited = true
			}
			stats.mu.Unlock()
			s.log.Warn("occurrence check failed", "route", occ.Route.String(),
				"departure", occ.Departure.Format(time.RFC3339),
				"subscribers", len(grp.subs), "error", err)
			return
		}
		snap = fetched
		s.cache.Put(occ, *snap, cacheTTL(occ.Departure.Sub(s.now())))
	}

	for _, sub := range grp.subs {
		if ctx.Err() != nil {
			return
		}
		threshold := sub.DelayThreshold
		if threshold <= 0 {
			threshold = s.cfg.DelayThreshold
		}
		if kind, ok := detector.Detect(sub.LastStatus, *snap, sub.Prefs, threshold); ok {
			event := model.NotificationEvent{Kind: kind, Subscription: sub, Snapshot: *snap}
			if _, err := s.dispatch.Dispatch(ctx, event); err != nil {
				s.log.Error("dispatch event", "subscription_id", sub.ID,
					"kind", string(kind), "error", err)
			}
		}
		// State advances even when nothing fired, so the cadence window
		// starts from this check and stale polling never repeats.
		if err := s.store.UpdateStatus(ctx, sub.ID, *snap, s.now()); err != nil {
			s.log.Error("update subscription status", "subscription_id", sub.ID, "error", err)
		}
	}
}

// noteTickHealth widens the effective tick interval after a failing tick, a
// consecutive-failure cooldown that doubles while the provider stays
// unhealthy and resets on the first clean tick.
func (s *Scheduler) noteTickHealth(failures int, rateLimited bool) {
	if !rateLimited && failures < s.cfg.FailureThreshold {
		if failures == 0 {
			s.cooldown = 0
		}
		return
	}
	if s.cooldown == 0 {
		s.cooldown = s.cfg.CooldownBase
	} else {
		s.cooldown *= 2
		if s.cooldown > s.cfg.CooldownMax {
			s.cooldown = s.cfg.CooldownMax
		}
	}
	s.cooldownUntil = s.now().Add(s.cooldown)
	s.log.Warn("provider unhealthy, widening poll interval",
		"failures", failures, "rate_limited", rateLimited,
		"cooldown", s.cooldown.String())
}
