// fields.go defines the calendar-field record shared by "for" objects and
// "every" recurrences, and the conversion from loosely typed mappings.
package schedule

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Fields is a set of calendar units. A nil unit is unset: for a recurrence it
// matches any value, for a point in time it takes a default. Month is 1-12 and
// Date is the day of the month.
type Fields struct {
	Year   *int `json:"year,omitempty"`
	Month  *int `json:"month,omitempty"`
	Date   *int `json:"date,omitempty"`
	Hour   *int `json:"hour,omitempty"`
	Minute *int `json:"minute,omitempty"`
	Second *int `json:"second,omitempty"`
}

// Int returns a pointer to v, for building Fields literals.
func Int(v int) *int {
	return &v
}

// unitRange is the accepted range of a recurrence unit.
type unitRange struct {
	name     string
	min, max int
}

var recurrenceRanges = []unitRange{
	{"month", 1, 12},
	{"date", 1, 31},
	{"hour", 0, 23},
	{"minute", 0, 59},
	{"second", 0, 59},
}

func (f *Fields) unit(name string) **int {
	switch name {
	case "year":
		return &f.Year
	case "month":
		return &f.Month
	case "date":
		return &f.Date
	case "hour":
		return &f.Hour
	case "minute":
		return &f.Minute
	case "second":
		return &f.Second
	}
	return nil
}

// validateRecurrence checks every set unit against its calendar range.
func (f Fields) validateRecurrence() error {
	for _, r := range recurrenceRanges {
		p := *f.unit(r.name)
		if p != nil && (*p < r.min || *p > r.max) {
			return fmt.Errorf("%w: %s %d out of range %d-%d", ErrInvalidEvery, r.name, *p, r.min, r.max)
		}
	}
	if f.Year != nil && *f.Year < 1 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidEvery, *f.Year)
	}
	return nil
}

// CronExpression renders the fields, without the year, as a six-field cron
// expression with seconds first. Unset units become "*"; day of week is
// always "*".
func (f Fields) CronExpression() string {
	part := func(p *int) string {
		if p == nil {
			return "*"
		}
		return strconv.Itoa(*p)
	}
	return strings.Join([]string{
		part(f.Second),
		part(f.Minute),
		part(f.Hour),
		part(f.Date),
		part(f.Month),
		"*",
	}, " ")
}

// Valid reports whether t is a real instant whose calendar units match every
// unit set in want. The zero time is the invalid sentinel: parsers return it
// on failure. Matching the units catches dates that time.Date silently
// normalizes, such as 31 February turning into early March.
func Valid(t time.Time, want Fields) bool {
	if t.IsZero() {
		return false
	}
	same := func(p *int, got int) bool {
		return p == nil || *p == got
	}
	return same(want.Year, t.Year()) &&
		same(want.Month, int(t.Month())) &&
		same(want.Date, t.Day()) &&
		same(want.Hour, t.Hour()) &&
		same(want.Minute, t.Minute()) &&
		same(want.Second, t.Second())
}

// fieldsFromMap reads calendar units from a mapping. "day" is accepted as an
// alias of "date" and only fills date when date is unset. A nil value leaves
// the unit unset. Any other problem is reported wrapped in kind.
func fieldsFromMap(m map[string]any, kind error) (Fields, error) {
	var f Fields
	var day *int
	for _, key := range sortedKeys(m) {
		name := strings.ToLower(strings.TrimSpace(key))
		raw := m[key]
		if name == "day" {
			v, err := optionalInt(raw)
			if err != nil {
				return Fields{}, fmt.Errorf("%w: day: %v", kind, err)
			}
			day = v
			continue
		}
		slot := f.unit(name)
		if slot == nil {
			return Fields{}, fmt.Errorf("%w: unknown calendar unit %q", kind, key)
		}
		v, err := optionalInt(raw)
		if err != nil {
			return Fields{}, fmt.Errorf("%w: %s: %v", kind, name, err)
		}
		*slot = v
	}
	if day != nil && f.Date == nil {
		f.Date = day
	}
	return f, nil
}

// ordinalFields turns shorthand such as {"2nd": "hour"} into {"hour": 2}.
// Keys that do not start with a digit are dropped.
func ordinalFields(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for _, key := range sortedKeys(m) {
		if !startsWithDigit(key) {
			continue
		}
		unit, ok := m[key].(string)
		if !ok {
			return nil, fmt.Errorf("%w: ordinal %q must name a calendar unit", ErrInvalidEvery, key)
		}
		out[strings.ToLower(strings.TrimSpace(unit))] = leadingInt(key)
	}
	return out, nil
}

func startsWithDigit(key string) bool {
	return key != "" && unicode.IsDigit(rune(key[0]))
}

// leadingInt parses the digits at the start of s ("20th" -> 20).
func leadingInt(s string) int {
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

// optionalInt accepts nil or any integral number, including the float64 and
// json.Number values produced by encoding/json.
func optionalInt(raw any) (*int, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *int:
		return v, nil
	case int:
		return Int(v), nil
	case int32:
		return Int(int(v)), nil
	case int64:
		return Int(int(v)), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return Int(int(v)), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s is not an integer", v)
		}
		return Int(int(n)), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// toMap widens the mapping types accepted for "every" and "for".
func toMap(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case map[string]int:
		m := make(map[string]any, len(v))
		for k, n := range v {
			m[k] = n
		}
		return m, true
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
