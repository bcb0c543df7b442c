package monitor

import (
	"log/slog"
	"strconv"
	"strings"
)

// EvaluateCriterion evaluates a comparison expression of the form
// "<metric_name> <op> <threshold>" against aggregated metrics, with
// op one of > < >= <= == !=.
//
// The metric is looked up directly, then with the _latest suffix, then
// with the _avg suffix. A missing metric, a malformed expression, or an
// unknown operator evaluates to false and is logged, never raised.
func EvaluateCriterion(criterion string, aggregates map[string]float64, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}

	parts := strings.Fields(criterion)
	if len(parts) != 3 {
		logger.Warn("invalid criterion format", slog.String("criterion", criterion))
		return false
	}
	name, op, thresholdStr := parts[0], parts[1], parts[2]

	threshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil {
		logger.Warn("invalid threshold value",
			slog.String("criterion", criterion), slog.Any("error", err))
		return false
	}

	value, ok := aggregates[name]
	if !ok {
		value, ok = aggregates[name+"_latest"]
	}
	if !ok {
		value, ok = aggregates[name+"_avg"]
	}
	if !ok {
		return false
	}

	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		logger.Warn("unknown operator in criterion",
			slog.String("criterion", criterion), slog.String("operator", op))
		return false
	}
}
