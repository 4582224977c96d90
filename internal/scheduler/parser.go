// Package scheduler owns the job registry and the cron-backed engine that
// fires registered tasks.
// This file wraps robfig/cron for expression parsing.

package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser wraps robfig/cron for schedule-only usage
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser accepting 5-field cron, 6-field cron with a
// leading seconds field, and descriptors such as "@hourly" or "@every 5m".
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse returns the schedule for an expression.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	return p.parser.Parse(strings.TrimSpace(expression))
}

// Preview lists up to n activations of s after t. It stops early when the
// schedule has no further activation.
func Preview(s cron.Schedule, after time.Time, n int) []time.Time {
	var out []time.Time
	t := after
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
