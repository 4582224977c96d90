// Package schedule normalizes the many ways a caller can describe when a task
// should run into a single Spec.
//
// A point in time ("for") may be a time.Time, unix milliseconds, a calendar
// field object or a date string. Date strings are read with the layouts of the
// configured endianness and the month and day names of the configured locale.
// A recurrence ("every") may be calendar fields, ordinal shorthand such as
// {"2nd": "hour"}, or {"cron": "*/5 * * * *"}.
package schedule

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goodsign/monday"
	"golang.org/x/text/language"
)

// Options configures a Normalizer. Locale and Endianness are fixed for the
// lifetime of the Normalizer.
type Options struct {
	// Locale is a language tag such as "en_gb" or "fr-FR".
	Locale string
	// Endianness selects the date layouts tried for strings.
	Endianness Endianness
	// Location is used for strings and calendar fields. Default: time.Local.
	Location *time.Location
	// Now supplies the current time. Default: time.Now.
	Now func() time.Time
}

// Normalizer converts registration patterns into Specs.
type Normalizer struct {
	layouts []string
	locale  monday.Locale
	loc     *time.Location
	now     func() time.Time
}

// NewNormalizer validates the options and selects the date layouts once.
func NewNormalizer(opts Options) (*Normalizer, error) {
	layouts, err := Layouts(opts.Endianness)
	if err != nil {
		return nil, err
	}
	named, err := NamedLayouts(opts.Endianness)
	if err != nil {
		return nil, err
	}
	layouts = append(layouts, named...)
	locale, err := ResolveLocale(opts.Locale)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{
		layouts: layouts,
		locale:  locale,
		loc:     opts.Location,
		now:     opts.Now,
	}
	if n.loc == nil {
		n.loc = time.Local
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n, nil
}

// ResolveLocale maps a language tag onto the closest locale known to the date
// name tables. Tags with an unsupported region fall back to en_US.
func ResolveLocale(tag string) (monday.Locale, error) {
	parsed, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnknownLocale, tag, err)
	}
	base, _ := parsed.Base()
	region, _ := parsed.Region()
	candidate := monday.Locale(base.String() + "_" + region.String())
	if slices.Contains(monday.ListLocales(), candidate) {
		return candidate, nil
	}
	return monday.LocaleEnUS, nil
}

// Locale reports the locale used for month and day names.
func (n *Normalizer) Locale() monday.Locale {
	return n.locale
}

// Normalize converts p into a Spec. Exactly one of p.For and p.Every must be
// set.
func (n *Normalizer) Normalize(p Pattern) (Spec, error) {
	hasFor, hasEvery := p.For != nil, p.Every != nil
	if hasFor == hasEvery {
		return Spec{}, ErrConflictingOrMissingSchedule
	}
	if hasFor {
		at, err := n.resolveFor(p.For)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindAt, At: at}, nil
	}
	return n.resolveEvery(p.Every)
}

func (n *Normalizer) resolveFor(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		if !Valid(v, Fields{}) {
			return time.Time{}, ErrInvalidDate
		}
		return v, nil
	case *time.Time:
		if v == nil || !Valid(*v, Fields{}) {
			return time.Time{}, ErrInvalidDate
		}
		return *v, nil
	case string:
		return n.parseString(v)
	case Fields:
		return n.buildDate(v)
	case *Fields:
		if v == nil {
			return time.Time{}, ErrInvalidDate
		}
		return n.buildDate(*v)
	case float64, int, int64, json.Number:
		ms, err := optionalInt(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
		}
		return time.UnixMilli(int64(*ms)).In(n.loc), nil
	}
	if m, ok := toMap(raw); ok {
		f, err := fieldsFromMap(m, ErrInvalidDate)
		if err != nil {
			return time.Time{}, err
		}
		return n.buildDate(f)
	}
	return time.Time{}, fmt.Errorf("%w: unsupported value of type %T", ErrInvalidDate, raw)
}

// parseString reads an RFC 3339 instant or, failing that, the first layout of
// the configured endianness that yields a valid date. Numeric layouts are
// tried before the month-name ones.
func (n *Normalizer) parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range n.layouts {
		t, err := monday.ParseInLocation(layout, s, n.loc, n.locale)
		if err != nil {
			continue
		}
		var want Fields
		if !hasYear(layout) {
			want = Fields{Month: Int(int(t.Month())), Date: Int(t.Day())}
			t = time.Date(n.now().In(n.loc).Year(), t.Month(), t.Day(), 0, 0, 0, 0, n.loc)
		}
		if Valid(t, want) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// buildDate constructs a point in time from calendar fields. Unset date
// units take today's value and unset time units are zero.
func (n *Normalizer) buildDate(f Fields) (time.Time, error) {
	now := n.now().In(n.loc)
	or := func(p *int, def int) int {
		if p == nil {
			return def
		}
		return *p
	}
	want := Fields{
		Year:   Int(or(f.Year, now.Year())),
		Month:  Int(or(f.Month, int(now.Month()))),
		Date:   Int(or(f.Date, now.Day())),
		Hour:   Int(or(f.Hour, 0)),
		Minute: Int(or(f.Minute, 0)),
		Second: Int(or(f.Second, 0)),
	}
	t := time.Date(*want.Year, time.Month(*want.Month), *want.Date, *want.Hour, *want.Minute, *want.Second, 0, n.loc)
	if !Valid(t, want) {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d:%02d does not exist",
			ErrInvalidDate, *want.Year, *want.Month, *want.Date, *want.Hour, *want.Minute, *want.Second)
	}
	return t, nil
}

func (n *Normalizer) resolveEvery(raw any) (Spec, error) {
	var f Fields
	switch v := raw.(type) {
	case Fields:
		f = v
	case *Fields:
		if v == nil {
			return Spec{}, ErrInvalidEvery
		}
		f = *v
	default:
		m, ok := toMap(raw)
		if !ok {
			return Spec{}, fmt.Errorf("%w: got %T", ErrInvalidEvery, raw)
		}
		if expr, ok := cronExpression(m); ok {
			if strings.TrimSpace(expr) == "" {
				return Spec{}, fmt.Errorf("%w: cron expression must be a non-empty string", ErrInvalidEvery)
			}
			return Spec{Kind: KindExpression, Expression: expr}, nil
		}
		if slices.ContainsFunc(sortedKeys(m), startsWithDigit) {
			ordinal, err := ordinalFields(m)
			if err != nil {
				return Spec{}, err
			}
			m = ordinal
		}
		parsed, err := fieldsFromMap(m, ErrInvalidEvery)
		if err != nil {
			return Spec{}, err
		}
		f = parsed
	}
	// An unset second fires once at the top of each matching minute.
	if f.Second == nil {
		f.Second = Int(0)
	}
	if err := f.validateRecurrence(); err != nil {
		return Spec{}, err
	}
	return Spec{Kind: KindRecurring, Fields: f}, nil
}

// cronExpression reports whether m is exactly {"cron": ...}. A non-string
// value is returned as the empty expression so the caller rejects it.
func cronExpression(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	raw, ok := m["cron"]
	if !ok {
		return "", false
	}
	expr, _ := raw.(string)
	return expr, true
}
