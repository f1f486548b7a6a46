package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// BridgeRequest asks the external provider to move funds across chains.
// ClientRef is our transfer ID, echoed back in webhooks.
type BridgeRequest struct {
	ClientRef          string
	Amount             decimal.Decimal
	SourceChain        string
	DestinationChain   string
	DestinationAddress string
}

// BridgeResult is the provider's view of a transfer.
type BridgeResult struct {
	ProviderRef string
	State       string
	TxHashFrom  string
	TxHashTo    string
	Error       string
}

// BridgeProvider is the external bridge API.
type BridgeProvider interface {
	Initiate(ctx context.Context, req BridgeRequest) (BridgeResult, error)
	Status(ctx context.Context, providerRef string) (BridgeResult, error)
}

// WebhookEvent is an out-of-band status notification from the provider.
type WebhookEvent struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
	TxHashFrom string `json:"txHashFrom,omitempty"`
	TxHashTo   string `json:"txHashTo,omitempty"`
	Error      string `json:"error,omitempty"`
}
