package message

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{0,14}$`)

var (
	ErrTimestampFormat    = errors.New("must be an ISO-8601 timestamp")
	ErrTimestampZone      = errors.New("must carry an explicit UTC designator (Z or +00:00)")
	ErrTimestampPrecision = errors.New("must not carry more than 9 fractional second digits")
)

// maxFractionDigits is nanosecond precision; time.Parse would drop the rest.
const maxFractionDigits = 9

// ValidPhone reports whether s is an E.164 number: '+' then 1-15 digits, no leading zero.
func ValidPhone(s string) bool {
	return e164Pattern.MatchString(s)
}

// HasNUL reports whether s contains a U+0000 character. JSON allows it but
// PostgreSQL TEXT does not, so it is rejected at the edge for every backend.
func HasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// ParseTimestamp parses an ISO-8601 instant that is explicitly UTC and returns
// it normalized to time.UTC with nanosecond precision. Naive timestamps,
// non-zero offsets, the RFC 3339 "unknown offset" form -00:00 and more than
// nine fractional digits are rejected.
func ParseTimestamp(s string) (time.Time, error) {
	if strings.HasSuffix(s, "-00:00") {
		return time.Time{}, ErrTimestampZone
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ErrTimestampFormat
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, ErrTimestampZone
	}
	if fractionDigits(s) > maxFractionDigits {
		return time.Time{}, ErrTimestampPrecision
	}
	return t.UTC(), nil
}

// fractionDigits counts the digits after the seconds separator, which
// time.Parse accepts as either '.' or ','.
func fractionDigits(s string) int {
	i := strings.IndexAny(s, ".,")
	if i < 0 {
		return 0
	}
	n := 0
	for _, c := range s[i+1:] {
		if c < '0' || c > '9' {
			break
		}
		n++
	}
	return n
}
