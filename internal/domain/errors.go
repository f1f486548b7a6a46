package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrValidation       = errors.New("validation failed")
	ErrLockHeld         = errors.New("lock already held")
	ErrPeriodCapReached = errors.New("period cap reached")
	ErrSlippage         = errors.New("price moved beyond slippage tolerance")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrTxReverted       = errors.New("transaction reverted")
)
