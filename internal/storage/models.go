package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies a subscription topic.
type Category string

const (
	CategoryPrices       Category = "prices"
	CategoryTrending     Category = "trending"
	CategoryComparison   Category = "comparison"
	CategoryFundingRates Category = "funding_rates"
	CategoryAlerts       Category = "alerts"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPrices, CategoryTrending, CategoryComparison, CategoryFundingRates, CategoryAlerts:
		return true
	}
	return false
}

// User is a registered recipient. The id doubles as the Telegram chat id for
// direct messages.
type User struct {
	ID        int64
	Username  string
	FirstName string
	CreatedAt time.Time
}

// Subscription binds a user to one category of pushes. Unique per
// (user_id, category).
type Subscription struct {
	ID        int64
	UserID    int64
	ChatID    int64
	Category  Category
	Active    bool
	Schedule  string
	Symbols   []string
	Sources   []string
	Threshold *decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceAlert is a one-shot price threshold watch. Once Triggered flips to
// true it is never evaluated again.
type PriceAlert struct {
	ID          int64
	UserID      int64
	ChatID      int64
	Symbol      string
	TargetPrice decimal.Decimal
	Condition   string // "above" or "below"
	Active      bool
	Triggered   bool
	CreatedAt   time.Time
	TriggeredAt *time.Time
}

// PushRecord is one append-only delivery outcome.
type PushRecord struct {
	ID           int64
	BatchID      string
	UserID       int64
	ChatID       int64
	Category     Category
	Content      string
	Success      bool
	ErrorMessage *string
	SentAt       time.Time
}
