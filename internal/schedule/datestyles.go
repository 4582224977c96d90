// datestyles.go holds the table of date layouts accepted for ambiguous date
// strings, keyed by the configured field order (endianness).
package schedule

import (
	"fmt"
	"slices"
	"strings"
)

// Endianness selects the field order used when reading a date string.
type Endianness string

const (
	// LittleEndian reads day first: 22.10.2030
	LittleEndian Endianness = "L"
	// MiddleEndian reads month first: 10/22/2030
	MiddleEndian Endianness = "M"
	// BigEndian reads year first: 2030-10-22
	BigEndian Endianness = "B"
)

// separators accepted between date fields, in the order layouts are tried.
var separators = []string{".", "-", "/"}

// fieldOrders lists the layouts per endianness, least specific first, using
// "-" as the placeholder separator. Day and month use the one-or-two digit
// forms so that "1/2/30" parses as well as "01/02/30".
var fieldOrders = map[Endianness][]string{
	LittleEndian: {"2-1", "2-1-06", "2-1-2006"},
	MiddleEndian: {"1-2", "1-2-06", "1-2-2006"},
	BigEndian:    {"06-1-2", "2006-1-2"},
}

var dateStyles = expandSeparators(fieldOrders)

// namedStyles lists the layouts that spell out the month, tried after the
// numeric table. Names are read in the configured locale.
var namedStyles = map[Endianness][]string{
	LittleEndian: {
		"2 January", "2 Jan",
		"2 January 2006", "2 Jan 2006",
		"Monday 2 January 2006", "Mon 2 Jan 2006",
	},
	MiddleEndian: {
		"January 2", "Jan 2",
		"January 2 2006", "Jan 2 2006", "January 2, 2006", "Jan 2, 2006",
		"Monday, January 2, 2006", "Mon, Jan 2, 2006",
	},
	BigEndian: {
		"2006 January 2", "2006 Jan 2",
	},
}

func expandSeparators(orders map[Endianness][]string) map[Endianness][]string {
	styles := make(map[Endianness][]string, len(orders))
	for en, sequences := range orders {
		layouts := make([]string, 0, len(sequences)*len(separators))
		for _, seq := range sequences {
			for _, sep := range separators {
				layouts = append(layouts, strings.ReplaceAll(seq, "-", sep))
			}
		}
		styles[en] = layouts
	}
	return styles
}

// Layouts returns the ordered date layouts tried for the given endianness.
// The returned slice is a copy.
func Layouts(e Endianness) ([]string, error) {
	layouts, ok := dateStyles[e]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want L, M or B)", ErrUnknownEndianness, string(e))
	}
	return slices.Clone(layouts), nil
}

// NamedLayouts returns the month-name layouts tried for the given endianness
// once every numeric layout has failed. The returned slice is a copy.
func NamedLayouts(e Endianness) ([]string, error) {
	layouts, ok := namedStyles[e]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want L, M or B)", ErrUnknownEndianness, string(e))
	}
	return slices.Clone(layouts), nil
}

// hasYear reports whether a layout carries a year field.
func hasYear(layout string) bool {
	return strings.Contains(layout, "06")
}
