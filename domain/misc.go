package domain

import (
	"time"

	"github.com/google/uuid"
)

// Table is a mongo collection name
type Table string

const (
	TableBidCards  Table = "bidcards"
	TableBidGroups Table = "bid_groups"
	TableGroupBids Table = "group_bids"
)

// NewId returns a random identifier for a new entity
func NewId() string {
	return uuid.NewString()
}

// Truncate drops sub-millisecond precision so values survive a bson round trip unchanged
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
