// Package dispatcher turns notification events into Telegram messages,
// suppressing duplicates and recording dispatch history.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"train_bot/internal/model"
	"train_bot/internal/storage"
)

// Sender is the interface for delivering a message to a chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Outcome describes what Dispatch did with an event.
type Outcome int

// Dispatch outcomes.
const (
	OutcomeQueued Outcome = iota
	OutcomeDeduped
	OutcomePaused
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQueued:
		return "queued"
	case OutcomeDeduped:
		return "deduped"
	case OutcomePaused:
		return "paused"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// sendQueueSize bounds pending sends; a full queue drops rather than blocks.
const sendQueueSize = 128

type queuedSend struct {
	chatID int64
	subID  int64
	kind   model.NotificationKind
	text   string
}

// Dispatcher delivers notification events at most once per dedup window.
// Sends run on a background worker, so a slow or hung chat gateway never
// blocks the caller's evaluation loop.
type Dispatcher struct {
	store       storage.Storage
	sender      Sender
	names       map[string]string
	dedupWindow time.Duration
	log         *slog.Logger
	now         func() time.Time

	queue   chan queuedSend
	pending sync.WaitGroup
}

// New creates a Dispatcher and starts its send worker. stationNames maps
// station ids to display names for message text and may be nil.
func New(store storage.Storage, sender Sender, stationNames map[string]string, dedupWindow time.Duration, log *slog.Logger) *Dispatcher {
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	d := &Dispatcher{
		store:       store,
		sender:      sender,
		names:       stationNames,
		dedupWindow: dedupWindow,
		log:         log,
		now:         time.Now,
		queue:       make(chan queuedSend, sendQueueSize),
	}
	go d.sendLoop()
	return d
}

// SetNowFunc overrides the clock, for tests.
func (d *Dispatcher) SetNowFunc(now func() time.Time) {
	d.now = now
}

// Dispatch queues the event for sending unless an identical kind was already
// dispatched for the subscription within the dedup window. A dispatch record
// is written as soon as the event is accepted; send failures are logged by
// the worker, never retried. Paused subscriptions skip the send but still
// record the dispatch, so one-shot events like departure reminders stay
// one-shot.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.NotificationEvent) (Outcome, error) {
	sub := event.Subscription
	windowStart := d.now().Add(-d.dedupWindow)

	recent, err := d.store.HasRecentDispatch(ctx, sub.ID, event.Kind, windowStart)
	if err != nil {
		return OutcomeDeduped, fmt.Errorf("dedup lookup: %w", err)
	}
	if recent {
		d.log.Debug("notification suppressed by dedup window",
			"subscription_id", sub.ID, "kind", string(event.Kind))
		return OutcomeDeduped, nil
	}

	msg := FormatMessage(event, d.names)
	outcome := OutcomeQueued

	switch {
	case sub.Paused:
		d.log.Info("notification suppressed, subscription paused",
			"subscription_id", sub.ID, "kind", string(event.Kind))
		outcome = OutcomePaused
	default:
		d.pending.Add(1)
		select {
		case d.queue <- queuedSend{chatID: sub.ChatID, subID: sub.ID, kind: event.Kind, text: msg}:
		default:
			d.pending.Done()
			d.log.Error("send queue full, dropping notification",
				"subscription_id", sub.ID, "kind", string(event.Kind))
			outcome = OutcomeDropped
		}
	}

	rec := model.DispatchRecord{
		SubscriptionID: sub.ID,
		Kind:           event.Kind,
		Message:        msg,
		SentAt:         d.now(),
	}
	if err := d.store.RecordDispatch(ctx, &rec); err != nil {
		return outcome, fmt.Errorf("record dispatch: %w", err)
	}
	return outcome, nil
}

func (d *Dispatcher) sendLoop() {
	for q := range d.queue {
		if err := d.sender.SendMessage(q.chatID, q.text); err != nil {
			d.log.Error("send notification", "subscription_id", q.subID,
				"chat_id", q.chatID, "kind", string(q.kind), "error", err)
		} else {
			d.log.Info("notification sent", "subscription_id", q.subID,
				"kind", string(q.kind), "chat_id", q.chatID)
		}
		d.pending.Done()
	}
}

// Flush blocks until every queued send has been attempted.
func (d *Dispatcher) Flush() {
	d.pending.Wait()
}

// Close flushes pending sends and stops the worker. Dispatch must not be
// called after Close.
func (d *Dispatcher) Close() {
	d.pending.Wait()
	close(d.queue)
}
