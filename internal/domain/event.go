package domain

import (
	"context"
	"time"
)

// Bus channels. The redis bus namespaces them under its key prefix.
const (
	ChannelTransfers   = "transfers"
	ChannelSettlements = "settlements"
	StreamAudit        = "audit"
)

// TransferEvent is published whenever a transfer record changes status.
type TransferEvent struct {
	TransferID string         `json:"transferId"`
	UserID     string         `json:"userId,omitempty"`
	From       TransferStatus `json:"from"`
	To         TransferStatus `json:"to"`
	Source     TransferSource `json:"source"`
	At         time.Time      `json:"at"`
}

// SettlementEvent is published after each finalize run.
type SettlementEvent struct {
	LeagueID  string    `json:"leagueId"`
	Settled   int       `json:"settled"`
	Failed    int       `json:"failed"`
	AnyFailed bool      `json:"anyFailed"`
	At        time.Time `json:"at"`
}

// JobQueue hands bridge work to background workers. EnqueuePoll schedules a
// status poll after delay; attempt counts polls already made.
type JobQueue interface {
	EnqueueTransfer(ctx context.Context, transferID string) error
	EnqueuePoll(ctx context.Context, transferID string, attempt int, delay time.Duration) error
}
