package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells which side of the target price fires an alert.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// ParseDirection accepts above/below (and the >, < shorthands) case-insensitively.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "above", ">", ">=":
		return DirectionAbove, nil
	case "below", "<", "<=":
		return DirectionBelow, nil
	default:
		return "", fmt.Errorf("%w: direction must be above or below, got %q", ErrInvalidInput, raw)
	}
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Alert is a persisted user price alert. It fires at most once.
type Alert struct {
	ID          int64
	OwnerID     string
	Symbol      string
	TargetPrice decimal.Decimal
	Direction   Direction
	CreatedAt   time.Time
	Fired       bool
	FiredAt     *time.Time
	FiredPrice  decimal.Decimal
}

// Triggered reports whether price meets the alert condition. Reaching the target exactly counts.
func (a Alert) Triggered(price decimal.Decimal) bool {
	switch a.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case DirectionBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}
