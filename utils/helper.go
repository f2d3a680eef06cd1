package utils

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DayLayout = "2006-01-02"

// DefaultTimezone is used when no organization timezone is configured.
const DefaultTimezone = "Asia/Yangon"

func LoadLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		timezone = DefaultTimezone
	}
	return time.LoadLocation(timezone)
}

// DayKey returns the calendar date of t in loc, stored as midnight UTC of that
// date. Ledger rows and event stock dates are keyed by this value so that
// comparisons do not depend on the database session timezone.
func DayKey(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string as a calendar date in loc and returns its day key.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date string")
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DayLayout, value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return DayKey(t, loc), nil
}

func FormatDay(day time.Time) string {
	return day.UTC().Format(DayLayout)
}

// MaxZero clamps negative values to zero and reports whether it did.
func MaxZero(d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsNegative() {
		return decimal.Zero, true
	}
	return d, false
}

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// SortedUniqueInts is the canonical lock order for material ids.
func SortedUniqueInts(ids []int) []int {
	out := UniqueSlice(ids)
	sort.Ints(out)
	return out
}

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}
