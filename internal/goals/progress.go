package goals

import (
	"math"

	"goalsync/api/internal/store"
)

// MetricPercent is round(min(current/target, 1) * 100). Targets that are zero,
// negative or not a number yield 0, as do negative ratios.
func MetricPercent(m store.Metric) int {
	if !(m.Target > 0) || math.IsNaN(m.Current) {
		return 0
	}
	ratio := m.Current / m.Target
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return int(math.Round(ratio * 100))
}

func ClampProgress(p int) int {
	return max(0, min(100, p))
}

// MetricPercents maps goal metric ids, and key result metrics as "keyResultId/metricId",
// to their percent complete.
func MetricPercents(goal store.Goal) map[string]int {
	out := make(map[string]int, len(goal.Metrics))
	for _, m := range goal.Metrics {
		out[m.ID] = MetricPercent(m)
	}
	for _, kr := range goal.KeyResults {
		for _, m := range kr.Metrics {
			out[kr.ID+"/"+m.ID] = MetricPercent(m)
		}
	}
	return out
}

// KeyResultPercent is the mean percent of the key result's metrics, 0 without metrics.
func KeyResultPercent(kr store.KeyResult) int {
	return meanPercent(kr.Metrics)
}

// MetricRollup is the mean percent of the goal's own metrics. It is informational;
// Goal.Progress stays authoritative.
func MetricRollup(goal store.Goal) int {
	return meanPercent(goal.Metrics)
}

func meanPercent(metrics []store.Metric) int {
	if len(metrics) == 0 {
		return 0
	}
	total := 0
	for _, m := range metrics {
		total += MetricPercent(m)
	}
	return int(math.Round(float64(total) / float64(len(metrics))))
}
