package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"train_bot/internal/model"
)

const clockLayout = "15:04"

// FormatMessage renders a notification event as Telegram message text.
// Station ids are replaced by display names when a mapping is known.
func FormatMessage(event model.NotificationEvent, names map[string]string) string {
	route := event.Subscription.Route
	dep := stationName(names, route.DepartureStation)
	arr := stationName(names, route.ArrivalStation)
	snap := event.Snapshot

	var b strings.Builder
	switch event.Kind {
	case model.KindDelayIncreased:
		fmt.Fprintf(&b, "🚨 Train Update: %s → %s\n", dep, arr)
		fmt.Fprintf(&b, "Scheduled: %s\n", snap.ScheduledDeparture.Format(clockLayout))
		fmt.Fprintf(&b, "Status: Delayed by %d minutes\n", snap.Delay())
		fmt.Fprintf(&b, "New departure: %s", delayedTime(snap).Format(clockLayout))
	case model.KindDelayCleared:
		fmt.Fprintf(&b, "✅ Train Update: %s → %s\n", dep, arr)
		fmt.Fprintf(&b, "Scheduled: %s\n", snap.ScheduledDeparture.Format(clockLayout))
		if snap.Delay() > 0 {
			fmt.Fprintf(&b, "Status: Delay reduced to %d minutes", snap.Delay())
		} else {
			b.WriteString("Status: On time")
		}
	case model.KindDepartureImminent:
		fmt.Fprintf(&b, "🔔 Departure Reminder: %s → %s\n", dep, arr)
		fmt.Fprintf(&b, "Scheduled departure: %s\n", snap.ScheduledDeparture.Format(clockLayout))
		if snap.Delay() > 0 {
			fmt.Fprintf(&b, "Status: Delayed by %d minutes\n", snap.Delay())
			fmt.Fprintf(&b, "New departure: %s", delayedTime(snap).Format(clockLayout))
		} else {
			b.WriteString("Status: On time")
		}
	case model.KindArrived:
		fmt.Fprintf(&b, "🏁 Arrival: %s → %s\n", dep, arr)
		fmt.Fprintf(&b, "Train arrived around %s", snap.ScheduledArrival.Add(delayShift(snap)).Format(clockLayout))
	case model.KindCancelled:
		fmt.Fprintf(&b, "❌ Train Cancelled: %s → %s\n", dep, arr)
		fmt.Fprintf(&b, "Scheduled: %s\n", snap.ScheduledDeparture.Format(clockLayout))
		b.WriteString("The train no longer appears in the timetable.")
	default:
		fmt.Fprintf(&b, "Train Update: %s → %s", dep, arr)
	}

	if len(snap.TransferStations) > 0 {
		stations := make([]string, 0, len(snap.TransferStations))
		for _, id := range snap.TransferStations {
			stations = append(stations, stationName(names, id))
		}
		fmt.Fprintf(&b, "\n\n⚠️ Note: this journey requires changing trains at: %s",
			strings.Join(stations, ", "))
	}
	return b.String()
}

func stationName(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return id
}

func delayedTime(snap model.StatusSnapshot) time.Time {
	return snap.ScheduledDeparture.Add(delayShift(snap))
}

func delayShift(snap model.StatusSnapshot) time.Duration {
	return time.Duration(snap.Delay()) * time.Minute
}
