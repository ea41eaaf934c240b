package timer

import "time"

// Reconcile computes the true current state from a stored record.
//
// A nil record means no row exists and yields Stopped/0. A record that is
// not running is taken as stored. A running record has the time that passed
// since its run segment began folded into the counter, and a fresh segment
// is opened less than a second before now, so a timer left running across a
// reload keeps the wall-clock time that passed while nobody was watching.
func Reconcile(rec *Record, now time.Time) State {
	if rec == nil {
		return Stopped()
	}

	accumulated := rec.AccumulatedSeconds
	if accumulated < 0 {
		accumulated = 0
	}

	switch rec.Status {
	case StatusRunning:
		segment := segmentStart(now)
		if rec.RunStartedAt != nil {
			folded := elapsedSince(*rec.RunStartedAt, now)
			accumulated += folded
			if folded > 0 {
				// carry the sub-second remainder into the new segment
				segment = segmentStart(rec.RunStartedAt.Add(time.Duration(folded) * time.Second))
			}
		}
		return State{Status: StatusRunning, Accumulated: accumulated, RunStartedAt: segment}
	case StatusPaused:
		return State{Status: StatusPaused, Accumulated: accumulated}
	default:
		return State{Status: StatusStopped, Accumulated: accumulated}
	}
}

// elapsedSince returns whole seconds from start to now, clamped at zero
// when start lies in the future (clock skew between devices).
func elapsedSince(start, now time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
