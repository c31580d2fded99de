package callhistory

import "time"

// Policy holds the per-identity rate thresholds
type Policy struct {
	MaxCalls24h  int
	MaxTime24h   time.Duration
	BlacklistFor time.Duration
}

// Blacklisted reports whether stats exceed either threshold
func (p Policy) Blacklisted(st Stats) bool {
	return st.Last24Calls > p.MaxCalls24h || st.Last24Time > p.MaxTime24h.Seconds()
}

// Expiry returns when a blacklisting decided at now ends
func (p Policy) Expiry(now time.Time) time.Time {
	return now.Add(p.BlacklistFor)
}
