// Package budgetkey implements the data model from spec.md §3: budget
// keys, day/hour buckets, the 24-entry budget vector and its two on-disk
// encodings, and the request-scoped parsed representation consumed by
// BudgetConsumer.
package budgetkey

import (
	"fmt"
	"time"
)

// HoursPerDay is the fixed width of a BudgetValue vector.
const HoursPerDay = 24

// Day is the number of days since the Unix epoch.
type Day int64

// Hour is the hour-of-day in [0, 24).
type Hour int

// DayAndHour derives the (Day, Hour) pair from a reporting timestamp, per
// spec.md §3's Day/Hour (TimeGroup/TimeBucket) definitions.
func DayAndHour(reportingTime time.Time) (Day, Hour) {
	utc := reportingTime.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	day := Day(midnight.Unix() / 86400)
	return day, Hour(utc.Hour())
}

// ParseReportingTime parses an RFC-3339 timestamp, rejecting anything
// before the epoch (spec.md's original treats negative seconds-since-epoch
// as invalid).
func ParseReportingTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reporting_time %q: %w", s, err)
	}
	if t.Unix() < 0 {
		return time.Time{}, fmt.Errorf("reporting_time %q is before the epoch", s)
	}
	return t, nil
}

// BudgetState is one hour's entry in a BudgetValue.
type BudgetState int8

const (
	Empty BudgetState = 0
	Full  BudgetState = 1
)

// BudgetValue is the 24-entry per-hour vector for one (BudgetKey, Day).
type BudgetValue [HoursPerDay]BudgetState

// NewFullBudgetValue returns a fresh, fully-available vector — the state
// synthesized for a (BudgetKey, Day) that has no row yet (spec.md §4.4
// step 2).
func NewFullBudgetValue() BudgetValue {
	var v BudgetValue
	for i := range v {
		v[i] = Full
	}
	return v
}

// Key is the BudgetKey string: "<reporting_origin>/<client_supplied_key>".
type Key string

func NewKey(reportingOrigin, clientKey string) Key {
	return Key(reportingOrigin + "/" + clientKey)
}

// PrimaryKey identifies one row in the store: (BudgetKey, Day).
type PrimaryKey struct {
	BudgetKey Key
	Day       Day
}

// Timeframe is the on-disk string form of Day used as the second column
// of the store's composite primary key (spec.md §6 "Persisted schema").
func (d Day) Timeframe() string {
	return fmt.Sprintf("%d", int64(d))
}
