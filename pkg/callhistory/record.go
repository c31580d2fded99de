// Package callhistory keeps the per-caller call log used for rate statistics
// and blacklisting.
package callhistory

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallRecord is one call from one remote identity, in Unix seconds. A record
// with End == 0 and Duration == 0 is open: confirmed but not yet disconnected.
type CallRecord struct {
	Start    float64
	End      float64
	Duration float64
}

// OpenRecord returns an open record starting at now
func OpenRecord(now time.Time) CallRecord {
	return CallRecord{Start: unixSeconds(now)}
}

// IsOpen reports whether the call has not been closed yet
func (r CallRecord) IsOpen() bool {
	return r.End == 0 && r.Duration == 0
}

// Closed returns the record closed at now
func (r CallRecord) Closed(now time.Time) CallRecord {
	end := unixSeconds(now)
	return CallRecord{Start: r.Start, End: end, Duration: end - r.Start}
}

// MarshalJSON encodes the record as a [start, end, duration] triple
func (r CallRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{r.Start, r.End, r.Duration})
}

// UnmarshalJSON decodes a [start, end, duration] triple
func (r *CallRecord) UnmarshalJSON(data []byte) error {
	var triple []float64
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("call record must have 3 elements, got %d", len(triple))
	}
	r.Start, r.End, r.Duration = triple[0], triple[1], triple[2]
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
