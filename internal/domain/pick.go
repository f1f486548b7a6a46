package domain

import "time"

// Side is one of the two outcomes of a binary market.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether s names a real side.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Pick is one user's selection of a side on a market within a league.
// MarketPrice is the market's latest side-A price as joined from the market
// row; nil when no price has been ingested.
type Pick struct {
	ID          string    `json:"id"`
	LeagueID    string    `json:"leagueId"`
	UserID      string    `json:"userId"`
	MarketID    string    `json:"marketId"`
	Side        Side      `json:"side"`
	PeriodIndex int       `json:"periodIndex"`
	MarketPrice *float64  `json:"marketPrice,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SidePrice converts a market's side-A price into the price of side.
func SidePrice(marketPrice float64, side Side) float64 {
	if side == SideB {
		return 1 - marketPrice
	}
	return marketPrice
}

// PickSwap records a pick being replaced by another market/side within a
// period.
type PickSwap struct {
	ID          string
	PickID      string
	LeagueID    string
	UserID      string
	PeriodIndex int
	OldMarketID string
	OldSide     Side
	NewMarketID string
	NewSide     Side
	QuotedPrice float64
	FillPrice   float64
	CreatedAt   time.Time
}

// MarketResolution is the final outcome of a market. WinningSide is nil
// until the market resolves.
type MarketResolution struct {
	MarketID    string
	WinningSide *Side
	ResolvedAt  *time.Time
}
