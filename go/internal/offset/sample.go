package offset

import "time"

// Sample is one completed time probe round trip
type Sample struct {
	ServerInstant time.Time // coordinator's authoritative instant
	SentAt        time.Time // local clock when the probe left
	ReceivedAt    time.Time // local clock when the answer arrived
}

// RoundTrip is the local time the exchange took
func (s Sample) RoundTrip() time.Duration {
	return s.ReceivedAt.Sub(s.SentAt)
}

// Offset is how far the local clock is ahead of the coordinator. The server
// instant is assumed to be read halfway through the round trip.
func (s Sample) Offset() time.Duration {
	midpoint := s.SentAt.Add(s.RoundTrip() / 2)
	return midpoint.Sub(s.ServerInstant)
}

// Mean is the arithmetic mean of the sample offsets, zero for no samples
func Mean(samples []Sample) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s.Offset()
	}
	return sum / time.Duration(len(samples))
}

// Estimate is the client's current view of its clock offset. Positive means
// the local clock runs ahead of the coordinator, so coordinator instant T
// happens at local time T+Value.
type Estimate struct {
	Value      time.Duration
	Samples    int
	RunID      string
	UpdatedAt  time.Time
	Calibrated bool
}

// ToLocal converts a coordinator instant to the local clock
func (e Estimate) ToLocal(coordinatorInstant time.Time) time.Time {
	return coordinatorInstant.Add(e.Value)
}
