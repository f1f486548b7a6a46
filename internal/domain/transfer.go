package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the internal lifecycle of a bridge transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAttesting TransferStatus = "attesting"
	TransferMinted    TransferStatus = "minted"
	TransferFailed    TransferStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TransferStatus) Terminal() bool {
	return s == TransferMinted || s == TransferFailed
}

// rank orders the non-terminal path pending -> attesting -> minted.
func (s TransferStatus) rank() int {
	switch s {
	case TransferPending:
		return 0
	case TransferAttesting:
		return 1
	case TransferMinted, TransferFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-applying the current non-terminal state is allowed so late tx hashes
// can be merged in.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// TransferRecord is the durable record of one bridge attempt. The JSON field
// names are relied upon by API consumers.
type TransferRecord struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	SourceChain        string          `json:"sourceChain"`
	DestinationChain   string          `json:"destinationChain"`
	DestinationAddress string          `json:"destinationAddress"`
	Status             TransferStatus  `json:"status"`
	BridgeState        string          `json:"bridgeState"`
	ProviderRef        string          `json:"providerRef,omitempty"`
	TxHashFrom         string          `json:"txHashFrom"`
	TxHashTo           string          `json:"txHashTo"`
	Error              string          `json:"error"`
	IdempotencyKey     string          `json:"idempotencyKey,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// TransferUpdate is a field-level patch to a TransferRecord. Empty strings
// leave the stored value untouched.
type TransferUpdate struct {
	Status      TransferStatus
	BridgeState string
	ProviderRef string
	TxHashFrom  string
	TxHashTo    string
	Error       string
}

// TransferSource identifies who produced a TransferUpdate.
type TransferSource string

const (
	SourceWorker  TransferSource = "worker"
	SourcePoll    TransferSource = "poll"
	SourceWebhook TransferSource = "webhook"
)
