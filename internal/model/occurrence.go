package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Occurrence identifies one concrete scheduled running of a train: a route
// plus a scheduled departure instant. Subscriptions sharing an occurrence
// share provider lookups.
type Occurrence struct {
	Route     Route
	Departure time.Time
}

// Key returns a map-safe identity for the occurrence.
func (o Occurrence) Key() string {
	return o.Route.String() + "@" + strconv.FormatInt(o.Departure.Unix(), 10)
}

// NextOccurrence computes the next scheduled running of the subscription
// within the look-ahead window. Today's occurrence is still returned for up
// to grace after its scheduled departure, so in-transit trains keep being
// polled until they arrive or are cancelled.
func (s Subscription) NextOccurrence(now time.Time, lookahead, grace time.Duration) (Occurrence, bool) {
	hh, mm, err := parseTimeOfDay(s.DepartureTime)
	if err != nil {
		return Occurrence{}, false
	}

	limit := now.Add(lookahead)
	maxDays := int(lookahead/(24*time.Hour)) + 1
	for off := 0; off <= maxDays; off++ {
		day := now.AddDate(0, 0, off)
		if !s.matchesWeekday(day.Weekday()) || !s.withinDateWindow(day) {
			continue
		}
		dep := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, now.Location())
		if now.Sub(dep) > grace {
			continue
		}
		if dep.After(limit) {
			break
		}
		return Occurrence{Route: s.Route, Departure: dep}, true
	}
	return Occurrence{}, false
}

func (s Subscription) matchesWeekday(wd time.Weekday) bool {
	for _, w := range s.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

func (s Subscription) withinDateWindow(day time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if s.StartDate != nil && d.Before(truncateToDay(*s.StartDate)) {
		return false
	}
	if s.EndDate != nil && d.After(truncateToDay(*s.EndDate)) {
		return false
	}
	return true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Validate checks the structural invariants of a subscription.
func (s Subscription) Validate() error {
	if len(s.Weekdays) == 0 {
		return fmt.Errorf("subscription needs at least one weekday")
	}
	if _, _, err := parseTimeOfDay(s.DepartureTime); err != nil {
		return err
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return fmt.Errorf("end date %s before start date %s",
			s.EndDate.Format("2006-01-02"), s.StartDate.Format("2006-01-02"))
	}
	if s.DelayThreshold < 0 {
		return fmt.Errorf("negative delay threshold %d", s.DelayThreshold)
	}
	return nil
}

func parseTimeOfDay(v string) (hh, mm int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid departure time %q", v)
	}
	hh, err = strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid departure time %q", v)
	}
	mm, err = strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid departure time %q", v)
	}
	return hh, mm, nil
}

// ParseWeekdays parses a comma-separated list of weekday numbers
// (0=Sunday .. 6=Saturday) as stored in the database.
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	var days []time.Weekday
	seen := map[time.Weekday]bool{}
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", s)
		}
		if wd := time.Weekday(n); !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

// FormatWeekdays is the inverse of ParseWeekdays.
func FormatWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}
