// Package rate computes rolling hashrate, Work Utility and efficiency metrics
// from the share stream. Counters are kept in per-minute buckets so trailing
// sums cost O(buckets), independent of share volume.
package rate

import "time"

// bucket accumulates share counters for one wall-clock minute
type bucket struct {
	Minute   int64   `json:"minute"` // unix time / 60
	Accepted float64 `json:"accepted"`
	Rejected float64 `json:"rejected"`
	Count    int64   `json:"count"` // accepted share count, for average difficulty
}

// ring is a fixed-size circular buffer of minute buckets
type ring struct {
	buckets []bucket
}

func newRing(minutes int) *ring {
	return &ring{buckets: make([]bucket, minutes)}
}

// at returns the bucket for the given minute, clearing it if it held an older
// minute that has wrapped around.
func (r *ring) at(minute int64) *bucket {
	b := &r.buckets[minute%int64(len(r.buckets))]
	if b.Minute != minute {
		*b = bucket{Minute: minute}
	}
	return b
}

func (r *ring) add(at time.Time, difficulty float64, accepted bool) {
	b := r.at(at.Unix() / 60)
	if accepted {
		b.Accepted += difficulty
		b.Count++
	} else {
		b.Rejected += difficulty
	}
}

// sums returns accepted difficulty, rejected difficulty and accepted share
// count over the trailing window ending at now.
func (r *ring) sums(now time.Time, window time.Duration) (accepted, rejected float64, count int64) {
	nowMin := now.Unix() / 60
	minutes := int64(window / time.Minute)
	if minutes > int64(len(r.buckets)) {
		minutes = int64(len(r.buckets))
	}
	for i := int64(0); i < minutes; i++ {
		minute := nowMin - i
		b := &r.buckets[minute%int64(len(r.buckets))]
		if b.Minute != minute {
			continue
		}
		accepted += b.Accepted
		rejected += b.Rejected
		count += b.Count
	}
	return accepted, rejected, count
}

// snapshot copies the live buckets (those holding a real minute) for checkpointing
func (r *ring) snapshot() []bucket {
	var out []bucket
	for _, b := range r.buckets {
		if b.Minute != 0 && (b.Accepted != 0 || b.Rejected != 0 || b.Count != 0) {
			out = append(out, b)
		}
	}
	return out
}

// restore loads checkpointed buckets back into the ring
func (r *ring) restore(buckets []bucket) {
	for _, b := range buckets {
		*r.at(b.Minute) = b
	}
}
