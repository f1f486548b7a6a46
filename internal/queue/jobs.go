// Package queue runs bridge work as durable river jobs stored in Postgres.
package queue

// TransferArgs asks a worker to hand a persisted transfer to the bridge
// provider.
type TransferArgs struct {
	TransferID string `json:"transfer_id"`
}

// Kind returns the job type identifier for river.
func (TransferArgs) Kind() string { return "bridge_transfer" }

// PollArgs asks a worker to fetch the provider's status for a transfer.
// Attempt counts polls already scheduled for it.
type PollArgs struct {
	TransferID string `json:"transfer_id"`
	Attempt    int    `json:"attempt"`
}

// Kind returns the job type identifier for river.
func (PollArgs) Kind() string { return "transfer_poll" }

const (
	queueBridge = "bridge"

	transferMaxAttempts = 5
	pollMaxAttempts     = 3
)
