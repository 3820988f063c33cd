// Package utils provides small shared helpers for the backtest engine.
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string {
	return GenerateID("ord")
}

// GenerateFillID generates a unique fill ID.
func GenerateFillID() string {
	return GenerateID("fil")
}

// GenerateRunID generates a unique backtest run ID.
func GenerateRunID() string {
	return GenerateID("run")
}

// TimeBucket coarsens a bar timestamp to the minute for rule-id
// construction. One strategy opinion per symbol, direction and minute maps
// to exactly one rule id.
func TimeBucket(ts time.Time) string {
	return ts.UTC().Format("20060102_1504")
}

// DateKey returns the calendar date of a timestamp, used for end-of-day
// detection and EOD rule ids.
func DateKey(ts time.Time) string {
	return ts.UTC().Format("20060102")
}

// SameDate reports whether two timestamps fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return DateKey(a) == DateKey(b)
}

// Sign returns -1, 0 or +1 for a decimal.
func Sign(d decimal.Decimal) int {
	return d.Sign()
}

// SignInt normalizes an int direction to -1, 0 or +1.
func SignInt(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
