package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence controls how a league's lifetime is bucketed into periods.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
	CadenceCustom Cadence = "custom"
)

// LeagueStatus represents the lifecycle state of a league.
type LeagueStatus string

const (
	LeagueStatusOpen       LeagueStatus = "open"
	LeagueStatusActive     LeagueStatus = "active"
	LeagueStatusFinalizing LeagueStatus = "finalizing"
	LeagueStatusFinalized  LeagueStatus = "finalized"
)

// League is a competition whose members draft picks on prediction markets.
// StartTime is nil for leagues that have not been scheduled yet.
type League struct {
	ID        string
	Name      string
	Cadence   Cadence
	StartTime *time.Time
	Status    LeagueStatus
	EntryFee  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeagueMember links a user to a league together with the address that
// receives minted reward tokens.
type LeagueMember struct {
	LeagueID          string
	UserID            string
	WalletAddress     string
	SettlementAddress string
	JoinedAt          time.Time
}
