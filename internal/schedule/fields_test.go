package schedule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFields_CronExpression(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   string
	}{
		{"all unset", Fields{}, "* * * * * *"},
		{"hourly at two", Fields{Hour: Int(2), Minute: Int(20), Second: Int(30)}, "30 20 2 * * *"},
		{"date and month", Fields{Month: Int(12), Date: Int(25), Second: Int(0)}, "0 * * 25 12 *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fields.CronExpression(); got != tt.want {
				t.Errorf("CronExpression() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	loc := time.UTC
	t.Run("zero time is invalid", func(t *testing.T) {
		if Valid(time.Time{}, Fields{}) {
			t.Error("zero time should be invalid")
		}
	})

	t.Run("normalized date is invalid", func(t *testing.T) {
		want := Fields{Year: Int(2030), Month: Int(2), Date: Int(31)}
		built := time.Date(2030, time.February, 31, 0, 0, 0, 0, loc)
		if Valid(built, want) {
			t.Error("31 February should not round-trip")
		}
	})

	t.Run("real date is valid", func(t *testing.T) {
		want := Fields{Year: Int(2030), Month: Int(2), Date: Int(28), Hour: Int(13)}
		built := time.Date(2030, time.February, 28, 13, 0, 0, 0, loc)
		if !Valid(built, want) {
			t.Error("28 February 13:00 should be valid")
		}
	})
}

func TestFieldsFromMap_DayAlias(t *testing.T) {
	f, err := fieldsFromMap(map[string]any{"day": 5.0}, ErrInvalidEvery)
	if err != nil {
		t.Fatalf("fieldsFromMap error: %v", err)
	}
	if f.Date == nil || *f.Date != 5 {
		t.Fatalf("expected day to be mirrored into date, got %v", f.Date)
	}

	f, err = fieldsFromMap(map[string]any{"day": 5, "date": 9}, ErrInvalidEvery)
	if err != nil {
		t.Fatalf("fieldsFromMap error: %v", err)
	}
	if *f.Date != 9 {
		t.Fatalf("date should win over day, got %d", *f.Date)
	}
}

func TestFieldsFromMap_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
	}{
		{"unknown unit", map[string]any{"fortnight": 1}},
		{"fractional", map[string]any{"hour": 1.5}},
		{"string value", map[string]any{"hour": "one"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fieldsFromMap(tt.in, ErrInvalidEvery)
			if !errors.Is(err, ErrInvalidEvery) {
				t.Fatalf("expected ErrInvalidEvery, got %v", err)
			}
		})
	}
}

func TestOptionalInt_JSONNumber(t *testing.T) {
	v, err := optionalInt(json.Number("42"))
	if err != nil {
		t.Fatalf("optionalInt error: %v", err)
	}
	if *v != 42 {
		t.Fatalf("optionalInt = %d, want 42", *v)
	}
}

func TestLeadingInt(t *testing.T) {
	tests := map[string]int{"2nd": 2, "20th": 20, "1st": 1, "30": 30}
	for in, want := range tests {
		if got := leadingInt(in); got != want {
			t.Errorf("leadingInt(%q) = %d, want %d", in, got, want)
		}
	}
}
