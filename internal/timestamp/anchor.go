package timestamp

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// AnchorLayout is the header time format (MM/DD/YY HH:MM:SS). Single-digit
// fields are accepted, the year must have two digits.
const AnchorLayout = "1/2/06 15:4:5"

// AnchorRegex matches the log-open header on the first line of a server log.
var AnchorRegex = regexp.MustCompile(
	`^Log:\sLog\sfile\sopen,\s([0-9]+/[0-9]+/[0-9]+\s[0-9]+:[0-9]+:[0-9]+)$`,
)

// maxOffsetSeconds keeps anchor+offset inside time.Duration range.
const maxOffsetSeconds = float64(math.MaxInt64 / int64(time.Second))

// ParseAnchor parses the log-open header. The wall-clock value is interpreted
// in loc (UTC when nil). A leading UTF-8 BOM and trailing CR/LF are ignored.
func ParseAnchor(line string, loc *time.Location) (time.Time, bool) {
	line = strings.TrimPrefix(line, "\ufeff")
	line = strings.TrimRight(line, "\r\n")

	m := AnchorRegex.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	ts, err := time.ParseInLocation(AnchorLayout, m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Resolver converts relative log offsets to absolute time for one file.
type Resolver struct {
	anchor time.Time
}

// NewResolver creates a resolver for a file opened at anchor.
func NewResolver(anchor time.Time) Resolver {
	return Resolver{anchor: anchor}
}

// Anchor returns the file-open time used for conversions.
func (r Resolver) Anchor() time.Time {
	return r.anchor
}

// Resolve returns anchor + offset, truncated toward zero to whole seconds.
// Negative, NaN and infinite offsets resolve to the anchor itself.
func (r Resolver) Resolve(offset float64) time.Time {
	if math.IsNaN(offset) || offset <= 0 {
		return r.anchor
	}
	secs := math.Trunc(offset)
	if secs > maxOffsetSeconds {
		secs = maxOffsetSeconds
	}
	return r.anchor.Add(time.Duration(secs) * time.Second)
}
