// Package provider wraps the rail timetable API behind a retrying client
// that maps raw responses to status snapshots.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sethvargo/go-retry"

	"train_bot/internal/model"
)

const apiTimeLayout = "2006-01-02T15:04:05"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes the client beyond its defaults.
type Options struct {
	Timeout             time.Duration // per-attempt timeout, default 30s
	RetryBaseDelay      time.Duration // first backoff delay, default 1s
	RetryMaxDelay       time.Duration // backoff cap, default 10s
	DepartingSoonWindow time.Duration // phase boundary, default 15m
	Now                 func() time.Time
}

// Client fetches train status from the rail timetable API. It is the only
// component that performs network calls to the provider.
type Client struct {
	http          HTTPClient
	baseURL       string
	apiKey        string
	timeout       time.Duration
	retryBase     time.Duration
	retryCap      time.Duration
	departingSoon time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// New creates a Client for the given endpoint and subscription key.
func New(httpClient HTTPClient, baseURL, apiKey string, log *slog.Logger, opts Options) *Client {
	c := &Client{
		http:          httpClient,
		baseURL:       baseURL,
		apiKey:        apiKey,
		timeout:       opts.Timeout,
		retryBase:     opts.RetryBaseDelay,
		retryCap:      opts.RetryMaxDelay,
		departingSoon: opts.DepartingSoonWindow,
		now:           opts.Now,
		log:           log,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.retryBase <= 0 {
		c.retryBase = time.Second
	}
	if c.retryCap <= 0 {
		c.retryCap = 10 * time.Second
	}
	if c.departingSoon <= 0 {
		c.departingSoon = 15 * time.Minute
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// FetchStatus queries the timetable for the occurrence and returns a fresh
// snapshot. Unavailable responses are retried (three attempts total, backoff
// doubling from the base delay up to the cap); rate limits and data errors
// propagate immediately. A train missing from the timetable is reported as a
// cancelled snapshot, not an error.
func (c *Client) FetchStatus(ctx context.Context, route model.Route, scheduledTime time.Time) (*model.StatusSnapshot, error) {
	var snapshot *model.StatusSnapshot

	backoff := retry.WithMaxRetries(2, retry.WithCappedDuration(c.retryCap, retry.NewExponential(c.retryBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		snap, err := c.fetchOnce(ctx, route, scheduledTime)
		if err != nil {
			if IsKind(err, KindUnavailable) {
				c.log.Warn("provider fetch failed, will retry", "route", route.String(), "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		snapshot = snap
		return nil
	})
	if err != nil {
		c.log.Error("provider fetch failed", "route", route.String(),
			"scheduled", scheduledTime.Format(apiTimeLayout), "error", err)
		return nil, err
	}

	c.log.Debug("provider fetch ok", "route", route.String(),
		"scheduled", scheduledTime.Format(apiTimeLayout),
		"phase", string(snapshot.Phase), "delay_min", snapshot.Delay())
	return snapshot, nil
}

func (c *Client) fetchOnce(ctx context.Context, route model.Route, scheduledTime time.Time) (*model.StatusSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(route, scheduledTime), nil)
	if err != nil {
		return nil, &Error{Kind: KindDataError, Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and transport failures are both retryable outages.
		return nil, &Error{Kind: KindUnavailable, Op: "http get", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Op: "http get", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindUnavailable, Op: "http get", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: KindDataError, Op: "http get", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "read body", Err: err}
	}

	var tt timetableResponse
	if err := jsonAPI.Unmarshal(body, &tt); err != nil {
		return nil, &Error{Kind: KindDataError, Op: "parse response", Err: err}
	}
	if tt.Result == nil {
		return nil, &Error{Kind: KindDataError, Op: "parse response", Err: errors.New("missing result")}
	}

	return c.buildSnapshot(tt.Result.Travels, scheduledTime)
}

func (c *Client) requestURL(route model.Route, scheduledTime time.Time) string {
	q := url.Values{}
	q.Set("fromStation", route.DepartureStation)
	q.Set("toStation", route.ArrivalStation)
	q.Set("date", scheduledTime.Format("2006-01-02"))
	q.Set("hour", "07:00")
	q.Set("scheduleType", "1")
	q.Set("systemType", "1")
	q.Set("languageId", "hebrew")
	return c.baseURL + "?" + q.Encode()
}

// buildSnapshot locates the travel matching the scheduled departure and
// derives the observed phase from delay and wall-clock time. A missing
// travel means the train was pulled from the board: phase cancelled.
func (c *Client) buildSnapshot(travels []travel, scheduledTime time.Time) (*model.StatusSnapshot, error) {
	want := scheduledTime.Format(apiTimeLayout)
	for _, tr := range travels {
		if tr.DepartureTime != want {
			continue
		}
		arrival, err := time.ParseInLocation(apiTimeLayout, tr.ArrivalTime, scheduledTime.Location())
		if err != nil {
			return nil, &Error{Kind: KindDataError, Op: "parse arrival", Err: err}
		}
		if len(tr.Trains) == 0 {
			return nil, &Error{Kind: KindDataError, Op: "parse travel", Err: errors.New("travel has no trains")}
		}

		// Absent position data means the train has not reported yet and is
		// treated as on time, following the upstream API semantics.
		delay := 0
		if pos := tr.Trains[0].TrainPosition; pos != nil && pos.CalcDiffMinutes != nil {
			delay = *pos.CalcDiffMinutes
		}

		snap := &model.StatusSnapshot{
			ScheduledDeparture: scheduledTime,
			ScheduledArrival:   arrival,
			DelayMinutes:       &delay,
			TransferStations:   transferStations(tr.Trains),
		}
		snap.Phase = c.derivePhase(scheduledTime, arrival, delay)
		return snap, nil
	}

	return &model.StatusSnapshot{
		ScheduledDeparture: scheduledTime,
		Phase:              model.PhaseCancelled,
	}, nil
}

func (c *Client) derivePhase(departure, arrival time.Time, delayMinutes int) model.Phase {
	now := c.now()
	shift := time.Duration(delayMinutes) * time.Minute
	switch {
	case !now.Before(arrival.Add(shift)):
		return model.PhaseArrived
	case !now.Before(departure.Add(shift)):
		return model.PhaseInTransit
	case departure.Add(shift).Sub(now) <= c.departingSoon:
		return model.PhaseDepartingSoon
	default:
		return model.PhaseScheduled
	}
}

func transferStations(trains []train) []string {
	if len(trains) <= 1 {
		return nil
	}
	stations := make([]string, 0, len(trains)-1)
	for _, t := range trains[:len(trains)-1] {
		stations = append(stations, t.DestinationStation.String())
	}
	return stations
}

type timetableResponse struct {
	Result *timetableResult `json:"result"`
}

type timetableResult struct {
	Travels []travel `json:"travels"`
}

type travel struct {
	DepartureTime string  `json:"departureTime"`
	ArrivalTime   string  `json:"arrivalTime"`
	Trains        []train `json:"trains"`
}

type train struct {
	DestinationStation json.Number    `json:"destinationStation"`
	TrainPosition      *trainPosition `json:"trainPosition"`
}

type trainPosition struct {
	CalcDiffMinutes *int `json:"calcDiffMinutes"`
}
