package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrNoProvider   = errors.New("no rpc provider available")
	ErrNoLiquidity  = errors.New("no flashloan liquidity available")
	ErrUnknownCell  = errors.New("unknown matrix cell")
	ErrInvalidEntry = errors.New("invalid provider entry")
)
