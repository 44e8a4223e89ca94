// Package detector implements the change-detection rules that decide
// whether a fresh snapshot warrants a notification.
package detector

import "train_bot/internal/model"

// Detect compares the previous and current snapshot of a subscription and
// returns the notification kind to send, if any. Rules are evaluated in
// priority order, first match wins, so a cancellation suppresses any delay
// or arrival verdict in the same tick.
//
// A nil previous snapshot (first check ever) never produces delay events,
// since there is no baseline, but phase-entry events still fire if the
// current snapshot already shows the phase.
func Detect(prev *model.StatusSnapshot, cur model.StatusSnapshot, prefs model.Preferences, delayThreshold int) (model.NotificationKind, bool) {
	if cur.Phase == model.PhaseCancelled {
		if prev == nil || prev.Phase != model.PhaseCancelled {
			// Cancellation is non-optional: delivered regardless of prefs.
			return model.KindCancelled, true
		}
		return "", false
	}

	if prefs.OnArrival && cur.Phase == model.PhaseArrived {
		if prev == nil || prev.Phase != model.PhaseArrived {
			return model.KindArrived, true
		}
	}

	if prefs.OnDelayChange && prev != nil {
		delta := cur.Delay() - prev.Delay()
		if delta != 0 && abs(delta) >= delayThreshold {
			if delta > 0 {
				return model.KindDelayIncreased, true
			}
			return model.KindDelayCleared, true
		}
	}

	if prefs.OnDepartureSoon && cur.Phase == model.PhaseDepartingSoon {
		if prev == nil || prev.Phase != model.PhaseDepartingSoon {
			return model.KindDepartureImminent, true
		}
	}

	return "", false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
