package domain

import "time"

// ProxyStatus is the provisioning state of a user's destination-chain
// address.
type ProxyStatus string

const (
	ProxyPending ProxyStatus = "pending"
	ProxyReady   ProxyStatus = "ready"
	ProxyError   ProxyStatus = "error"
)

// UserProxy maps a user's wallet to an address on the destination chain.
type UserProxy struct {
	ID            string
	UserID        string
	WalletAddress string
	ProxyAddress  string
	Status        ProxyStatus
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Readiness is the outcome of a bridge readiness check.
type Readiness struct {
	Ready            bool        `json:"ready"`
	ProxyAddress     string      `json:"proxyAddress"`
	ProxyStatus      ProxyStatus `json:"proxyStatus"`
	Balance          string      `json:"balance"`
	BalanceFormatted string      `json:"balanceFormatted"`
	Message          string      `json:"message"`
	Retryable        bool        `json:"retryable,omitempty"`
}
