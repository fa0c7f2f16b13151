package quality

import "time"

// Class is the 3-level link quality scale shown next to each peer.
type Class string

const (
	ClassGood   Class = "good"
	ClassMedium Class = "medium"
	ClassPoor   Class = "poor"
)

// Sample is one published quality reading for a peer. Provisional readings
// are produced before the first pong lands and never enter the RTT history.
type Sample struct {
	RTTMs       float64   `json:"rtt_ms"`
	JitterMs    float64   `json:"jitter_ms"`
	Class       Class     `json:"class"`
	SampledAt   time.Time `json:"sampled_at"`
	Provisional bool      `json:"provisional,omitempty"`
}

// Classify maps averaged RTT and jitter onto the quality scale.
func Classify(rttMs, jitterMs float64) Class {
	switch {
	case rttMs < 50 && jitterMs < 15:
		return ClassGood
	case rttMs < 100 && jitterMs < 30:
		return ClassMedium
	default:
		return ClassPoor
	}
}

// AverageRTT is the arithmetic mean of the history window.
func AverageRTT(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}

// Jitter is the mean absolute difference between consecutive RTT samples.
// Fewer than two samples yields 0.
func Jitter(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(history); i++ {
		d := history[i] - history[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(history)-1)
}
