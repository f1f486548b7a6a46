package domain

import "time"

// SettlementStatus tracks whether a user's points have been reflected
// on-chain.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementSent      SettlementStatus = "sent"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// Score is the per-(league, user) standing. Points, rank and the counters
// are owned by the aggregator; the Settlement* fields are owned by the
// reconciler. Neither writer replaces the other's columns.
type Score struct {
	LeagueID         string           `json:"leagueId"`
	UserID           string           `json:"userId"`
	Points           int64            `json:"points"`
	Rank             int              `json:"rank"`
	IsWinner         bool             `json:"isWinner"`
	CorrectPicks     int              `json:"correctPicks"`
	TotalPicks       int              `json:"totalPicks"`
	SettledPoints    int64            `json:"settledPoints"`
	SettlementStatus SettlementStatus `json:"settlementStatus"`
	SettlementTxHash string           `json:"settlementTxHash,omitempty"`
	SettlementError  string           `json:"settlementError,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`

	// SettlementTarget is the SettledPoints value the transaction in
	// SettlementTxHash brings the row to once it confirms. Only meaningful
	// while SettlementStatus is sent.
	SettlementTarget int64 `json:"-"`
}

// Delta is the amount of points not yet reflected on-chain.
func (s Score) Delta() int64 {
	return s.Points - s.SettledPoints
}

// ScorePointsPatch carries the columns the aggregator writes.
type ScorePointsPatch struct {
	LeagueID     string
	UserID       string
	Points       int64
	Rank         int
	IsWinner     bool
	CorrectPicks int
	TotalPicks   int
}

// SettlementPatch carries the columns the reconciler writes. Nil fields are
// left untouched.
type SettlementPatch struct {
	SettledPoints *int64
	Status        *SettlementStatus
	TxHash        *string
	Error         *string
	Target        *int64
}

// ScoreSnapshot captures a user's standing for one period. PnL and
// PortfolioValue are fixed 4-decimal strings.
type ScoreSnapshot struct {
	LeagueID       string    `json:"leagueId"`
	UserID         string    `json:"userId"`
	PeriodIndex    int       `json:"periodIndex"`
	Points         int64     `json:"points"`
	PnL            string    `json:"pnl"`
	PortfolioValue string    `json:"portfolioValue"`
	Rank           int       `json:"rank"`
	CapturedAt     time.Time `json:"capturedAt"`
}
