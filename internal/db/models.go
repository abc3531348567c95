package db

import (
	"time"

	"github.com/google/uuid"
)

// All monetary columns are integer micro-USD and tree columns integer
// micro-trees (1e-6 units), so aggregate updates stay plain bigint
// increments with no floating-point drift.

type User struct {
	ID               uuid.UUID
	Email            string
	DisplayName      string
	NewsletterOptIn  bool
	TotalQueries     int64
	InputTokens      int64
	OutputTokens     int64
	CostUSDMicros    int64
	DonatedUSDMicros int64
	TreesMicros      int64
	CreatedAt        time.Time
	LastEventAt      *time.Time
}

type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Title         string
	MessageCount  int64
	TotalTokens   int64
	CostUSDMicros int64
	TreesMicros   int64
	CreatedAt     time.Time
	LastEventAt   *time.Time
}

type UsageEvent struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	SessionID         uuid.UUID
	ModelAlias        string
	InputTokens       int64
	OutputTokens      int64
	InputUSDMicros    int64
	OutputUSDMicros   int64
	TotalUSDMicros    int64
	DonationUSDMicros int64
	TreesMicros       int64
	CreatedAt         time.Time
}

type GlobalStats struct {
	TotalUsers       int64
	TotalQueries     int64
	TreesMicros      int64
	WeekTreesMicros  int64
	WeekStart        time.Time
	DonatedUSDMicros int64
	UpdatedAt        time.Time
}

type Milestone struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Threshold int32
	ReachedAt time.Time
}
