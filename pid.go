package procgroup

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePID checks that a value received from outside of Go (a flag, a
// config file, a decoded JSON number) is a well-formed positive process
// identifier. It performs no lookup; whether the process exists is only
// known when it is added to a group.
func ParsePID(v any) (int, error) {
	var pid int64
	switch val := v.(type) {
	case int:
		pid = int64(val)
	case int32:
		pid = int64(val)
	case int64:
		pid = val
	case uint32:
		pid = int64(val)
	case uint64:
		if val > math.MaxInt32 {
			return 0, fmt.Errorf("process id %d is out of range: %w", val, ErrInvalidArgument)
		}
		pid = int64(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val != math.Trunc(val) {
			return 0, fmt.Errorf("process id %v is not an integer: %w", val, ErrInvalidArgument)
		}
		if val > math.MaxInt32 || val < math.MinInt32 {
			return 0, fmt.Errorf("process id %v is out of range: %w", val, ErrInvalidArgument)
		}
		pid = int64(val)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("process id %q must be a number: %w", val, ErrInvalidArgument)
		}
		pid = n
	default:
		return 0, fmt.Errorf("process id must be a number, not %T: %w", v, ErrInvalidArgument)
	}

	if pid <= 0 || pid > math.MaxInt32 {
		return 0, fmt.Errorf("process id %d must be positive: %w", pid, ErrInvalidArgument)
	}

	return int(pid), nil
}
