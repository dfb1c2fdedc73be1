package point

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar day used for earn, expiry and operation dates
// =============================================================================

// Date is a calendar day in UTC. Batches expire by day, never by instant.
type Date struct {
	Time time.Time
}

const (
	dateLayout      = "2006-01-02"
	basicDateLayout = "20060102"
)

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts both the extended (2006-01-02) and basic (20060102)
// ISO forms. Blank input yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range []string{dateLayout, basicDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(other Date) int { return d.Time.Compare(other.Time) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

func (d Date) IsZero() bool   { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format(dateLayout) }

// or returns d, or fallback when d is zero.
func (d Date) or(fallback Date) Date {
	if d.IsZero() {
		return fallback
	}
	return d
}
