package trip

import "time"

type Trip struct {
	ID        int64           `json:"id"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime"` // nil while the trip is active
	Distance  float64         `json:"distance"` // meters, set once at finalization
	Path      []LocationPoint `json:"path"`
}

type LocationPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // device clock, unix ms
	Accuracy  float64 `json:"accuracy"`  // meters; 0 if unavailable
}

// Active reports whether the trip has not been finalized yet.
func (t Trip) Active() bool { return t.EndTime == nil }

// Duration returns the elapsed time of the trip, measured up to now while it is active.
func (t Trip) Duration(now time.Time) time.Duration {
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime)
	}
	return now.Sub(t.StartTime)
}

// NextID derives a trip id from the creation time, bumped past lastID so
// ids stay strictly increasing even when the clock stalls or moves back.
func NextID(created time.Time, lastID int64) int64 {
	id := created.UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	return id
}
