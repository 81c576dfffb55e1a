package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// attrString renders v without quoting, for header fields.
func attrString(v slog.Value) string {
	return render(v, false)
}

// formatValue renders v for the key=value field list, quoting strings that
// would otherwise be ambiguous.
func formatValue(v slog.Value) string {
	return render(v, true)
}

func render(v slog.Value, quote bool) string {
	v = v.Resolve()
	var s string
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		// Confidence scores and rates read best at four places.
		return strconv.FormatFloat(v.Float64(), 'g', 4, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return renderTime(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if quote && needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return true
		}
	}
	return false
}

// renderTime prints local wall-clock seconds. The zero time renders empty.
func renderTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(time.DateTime)
}
