package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"train_bot/internal/model"
	"train_bot/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"
	dateLayout = "2006-01-02"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const subscriptionColumns = `id, chat_id, departure_station, arrival_station, weekdays, departure_time,
	 start_date, end_date, notify_departure_soon, notify_delay_change, notify_arrival,
	 delay_threshold, paused, is_active, last_status, last_checked, created_at`

// CreateSubscription validates and inserts a subscription, populating its ID
// and CreatedAt.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("validate subscription: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		 (chat_id, departure_station, arrival_station, weekdays, departure_time,
		  start_date, end_date, notify_departure_soon, notify_delay_change, notify_arrival,
		  delay_threshold, paused, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ChatID, sub.Route.DepartureStation, sub.Route.ArrivalStation,
		model.FormatWeekdays(sub.Weekdays), sub.DepartureTime,
		dateOrNil(sub.StartDate), dateOrNil(sub.EndDate),
		boolToInt(sub.Prefs.OnDepartureSoon), boolToInt(sub.Prefs.OnDelayChange), boolToInt(sub.Prefs.OnArrival),
		sub.DelayThreshold, boolToInt(sub.Paused), boolToInt(sub.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSubscription returns a single subscription by its ID.
func (s *SQLite) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id,
	)
	return scanSubscription(row)
}

// ListSubscriptions returns all subscriptions belonging to the given chat.
func (s *SQLite) ListSubscriptions(ctx context.Context, chatID int64) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListActiveDue returns active subscriptions whose date window overlaps the
// look-ahead window starting at now.
func (s *SQLite) ListActiveDue(ctx context.Context, now time.Time, lookahead time.Duration) ([]model.Subscription, error) {
	windowStart := now.UTC().Format(dateLayout)
	windowEnd := now.Add(lookahead).UTC().Format(dateLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE is_active = 1
		   AND (start_date IS NULL OR start_date <= ?)
		   AND (end_date IS NULL OR end_date >= ?)
		 ORDER BY id`,
		windowEnd, windowStart,
	)
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// SetActive toggles the soft-delete flag of a subscription.
func (s *SQLite) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = ? WHERE id = ?`, boolToInt(active), id,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// SetPaused toggles notification delivery without stopping polling.
func (s *SQLite) SetPaused(ctx context.Context, id int64, paused bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET paused = ? WHERE id = ?`, boolToInt(paused), id,
	)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// UpdateStatus persists the snapshot and check timestamp of a subscription.
func (s *SQLite) UpdateStatus(ctx context.Context, id int64, snapshot model.StatusSnapshot, checkedAt time.Time) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_status = ?, last_checked = ? WHERE id = ?`,
		string(raw), checkedAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// RecordDispatch appends a dispatch record, populating its ID and SentAt.
func (s *SQLite) RecordDispatch(ctx context.Context, rec *model.DispatchRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches (subscription_id, kind, message, sent_at) VALUES (?, ?, ?, ?)`,
		rec.SubscriptionID, string(rec.Kind), rec.Message, sentAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	rec.SentAt = sentAt
	return nil
}

// HasRecentDispatch reports whether a dispatch of the same kind exists for
// the subscription at or after windowStart.
func (s *SQLite) HasRecentDispatch(ctx context.Context, subscriptionID int64, kind model.NotificationKind, windowStart time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatches WHERE subscription_id = ? AND kind = ? AND sent_at >= ?`,
		subscriptionID, string(kind), windowStart.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check recent dispatch: %w", err)
	}
	return count > 0, nil
}

// ListDispatches returns the most recent dispatch records for a subscription.
func (s *SQLite) ListDispatches(ctx context.Context, subscriptionID int64, limit int) ([]model.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subscription_id, kind, message, sent_at FROM dispatches
		 WHERE subscription_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?`,
		subscriptionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.DispatchRecord
	for rows.Next() {
		var rec model.DispatchRecord
		var kindStr, sentStr string
		if err := rows.Scan(&rec.ID, &rec.SubscriptionID, &kindStr, &rec.Message, &sentStr); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		rec.Kind = model.NotificationKind(kindStr)
		rec.SentAt, _ = time.Parse(timeLayout, sentStr)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var sub model.Subscription
	var weekdaysStr string
	var startDate, endDate, lastStatus, lastChecked, created sql.NullString
	var depSoon, delayChange, arrival, paused, active int
	err := row.Scan(
		&sub.ID, &sub.ChatID, &sub.Route.DepartureStation, &sub.Route.ArrivalStation,
		&weekdaysStr, &sub.DepartureTime, &startDate, &endDate,
		&depSoon, &delayChange, &arrival, &sub.DelayThreshold,
		&paused, &active, &lastStatus, &lastChecked, &created,
	)
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Weekdays, err = model.ParseWeekdays(weekdaysStr)
	if err != nil {
		return nil, fmt.Errorf("parse weekdays: %w", err)
	}
	sub.Prefs = model.Preferences{
		OnDepartureSoon: depSoon == 1,
		OnDelayChange:   delayChange == 1,
		OnArrival:       arrival == 1,
	}
	sub.Paused = paused == 1
	sub.IsActive = active == 1
	if startDate.Valid {
		t, _ := time.Parse(dateLayout, startDate.String)
		sub.StartDate = &t
	}
	if endDate.Valid {
		t, _ := time.Parse(dateLayout, endDate.String)
		sub.EndDate = &t
	}
	if lastStatus.Valid && lastStatus.String != "" {
		var snap model.StatusSnapshot
		if err := json.Unmarshal([]byte(lastStatus.String), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal last status: %w", err)
		}
		sub.LastStatus = &snap
	}
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		sub.LastChecked = &t
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
