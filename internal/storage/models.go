package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotRecord represents a persisted preview snapshot refresh.
type SnapshotRecord struct {
	Bucket        time.Time
	MidUsed       decimal.Decimal
	SigmaBps      decimal.Decimal
	ConfBps       decimal.Decimal
	DivergenceBps decimal.Decimal
	SpreadBps     decimal.Decimal
	SourceReason  string
	VenuePayload  json.RawMessage
	BlockNumber   *int64
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// RecenterEvent captures a committed inventory retarget for auditing.
type RecenterEvent struct {
	ID           int64
	At           time.Time
	Mid          decimal.Decimal
	NewTarget    decimal.Decimal
	DeviationBps decimal.Decimal
	Manual       bool
	CreatedAt    time.Time
}
