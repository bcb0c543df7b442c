package store

import (
	"strconv"
	"strings"
)

// foldAggregates turns the raw aggregate hash into the numeric view the
// threshold evaluator consumes.
//
// Hash layout, written by RecordMetric:
//
//	{event}_count            event occurrence counts
//	{name}_sum, {name}_count numeric field running sums and sample counts
//	{name}_latest            most recent numeric value
//	last_updated             RFC3339 timestamp (not numeric, skipped)
//
// The folded view exposes {name} (the sum), {name}_latest, {name}_avg, and
// bare {event}_count entries. Fields are only consistent pairwise at best;
// a rate may be briefly stale relative to its numerator, which callers
// tolerate.
func foldAggregates(raw map[string]string) map[string]float64 {
	metrics := make(map[string]float64)
	sums := make(map[string]float64)
	counts := make(map[string]float64)

	for key, val := range raw {
		if reservedAggregateField(key) {
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}

		switch {
		case strings.HasSuffix(key, "_sum"):
			sums[strings.TrimSuffix(key, "_sum")] = f
		case strings.HasSuffix(key, "_count"):
			base := strings.TrimSuffix(key, "_count")
			if _, ok := raw[base+"_sum"]; ok {
				counts[base] = f
			} else {
				metrics[key] = f
			}
		case strings.HasSuffix(key, "_latest"):
			metrics[key] = f
		default:
			metrics[key] = f
		}
	}

	for name, sum := range sums {
		metrics[name] = sum
		if n := counts[name]; n > 0 {
			metrics[name+"_avg"] = sum / n
		}
	}

	return metrics
}
