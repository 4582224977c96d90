package schedule

import "time"

// Kind tags which shape a Spec holds.
type Kind int

const (
	// KindAt fires once at Spec.At.
	KindAt Kind = iota + 1
	// KindRecurring fires whenever the clock matches Spec.Fields.
	KindRecurring
	// KindExpression fires on the cron expression in Spec.Expression.
	KindExpression
)

func (k Kind) String() string {
	switch k {
	case KindAt:
		return "at"
	case KindRecurring:
		return "recurring"
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

// Pattern is the "for"/"every" part of a registration request. Exactly one of
// the two must be set. It is kept verbatim on the registered job.
type Pattern struct {
	For   any `json:"for,omitempty"`
	Every any `json:"every,omitempty"`
}

// Spec is a normalized schedule. Only the field matching Kind is meaningful.
type Spec struct {
	Kind       Kind
	At         time.Time
	Fields     Fields
	Expression string
}
