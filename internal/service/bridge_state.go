package service

import (
	"strings"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// MapProviderState folds a bridge provider's free-form state into the
// internal transfer lifecycle. Unrecognised states count as pending.
func MapProviderState(state string) domain.TransferStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "complete", "completed", "minted", "success":
		return domain.TransferMinted
	case "attesting", "pending_attestation", "confirming", "burned", "submitted", "in_progress":
		return domain.TransferAttesting
	case "failed", "error", "reverted", "expired", "cancelled":
		return domain.TransferFailed
	default:
		return domain.TransferPending
	}
}

// nextStatus resolves the status to store when want arrives for a record in
// cur. A regression keeps cur so that late tx hashes still merge in.
func nextStatus(cur, want domain.TransferStatus) domain.TransferStatus {
	if want == "" || !cur.CanTransitionTo(want) {
		return cur
	}
	return want
}
