package chainstore

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidDuration is returned for interval strings that do not match
// the accepted "<digits><unit>" form.
var ErrInvalidDuration = errors.New("chainstore: invalid duration")

// InvalidDurationError reports the offending input.
type InvalidDurationError struct {
	Input string
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("chainstore: invalid duration %q (want e.g. \"30s\", \"15m\", \"2h\", \"1d\")", e.Input)
}

func (e *InvalidDurationError) Unwrap() error {
	return ErrInvalidDuration
}

var intervalPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

var intervalUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseInterval converts a human-readable interval string such as
// "30s", "15m", "2h", or "1d" into a time.Duration. Unit-less numbers,
// decimals, and unknown suffixes are rejected with an
// [InvalidDurationError]. Callers that already hold a duration should
// pass it directly instead.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &InvalidDurationError{Input: s}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &InvalidDurationError{Input: s}
	}
	return time.Duration(n) * intervalUnits[m[2]], nil
}
