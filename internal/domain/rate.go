package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is one entry of a feed snapshot.
type RateRecord struct {
	Symbol        string
	Rate          decimal.Decimal
	MarkPrice     decimal.Decimal
	NextEventTime time.Time
}
