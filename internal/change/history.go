package change

import "math"

// metricHistory is a bounded ring of recent observations for one metric.
type metricHistory struct {
	values []float64
}

func (h *metricHistory) add(v float64) {
	h.values = append(h.values, v)
	if len(h.values) > historyDepth {
		h.values = h.values[len(h.values)-historyDepth:]
	}
}

func (h *metricHistory) average() (float64, bool) {
	if len(h.values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range h.values {
		sum += v
	}
	return sum / float64(len(h.values)), true
}

// trend classifies the direction of the last five observations.
func (h *metricHistory) trend() string {
	if len(h.values) < 5 {
		return "stable"
	}
	recent := h.values[len(h.values)-5:]
	increasing := 0
	for i := 1; i < len(recent); i++ {
		if recent[i] > recent[i-1] {
			increasing++
		}
	}
	switch {
	case increasing >= 4:
		return "increasing"
	case increasing <= 1:
		return "decreasing"
	default:
		return "stable"
	}
}

// volatility is the population standard deviation of the history.
func (h *metricHistory) volatility() float64 {
	if len(h.values) < 2 {
		return 0
	}
	avg, _ := h.average()
	var variance float64
	for _, v := range h.values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(h.values))
	return math.Sqrt(variance)
}
