package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal bus channels consumed by the WebSocket hub.
const (
	ChannelDex         = "ch:dex"
	ChannelLiquidation = "ch:liquidation"
	ChannelOpportunity = "ch:opportunity"
	ChannelExecution   = "ch:execution"
)

// Event statuses.
const (
	StatusInfo     = "info"
	StatusDetected = "detected"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusDryRun   = "dry_run"
)

// DexEvent is a price-feed notification broadcast to dashboard listeners.
type DexEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Dex       string `json:"dex"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// LiquidationNotice is a liquidation-stream notification broadcast to
// dashboard listeners.
type LiquidationNotice struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Account   string `json:"account"`
	Status    string `json:"status"`
	Details   string `json:"details"`
	CreatedAt string `json:"created_at"`
}

// NewDexEvent stamps a DexEvent with a fresh id and RFC 3339 timestamps.
func NewDexEvent(dex, message, status string) DexEvent {
	now := time.Now().UTC().Format(time.RFC3339)
	return DexEvent{
		ID:        uuid.New().String(),
		Timestamp: now,
		Dex:       dex,
		Message:   message,
		Status:    status,
		CreatedAt: now,
	}
}

// NewLiquidationNotice stamps a LiquidationNotice with a fresh id and RFC 3339
// timestamps.
func NewLiquidationNotice(account, status, details string) LiquidationNotice {
	now := time.Now().UTC().Format(time.RFC3339)
	return LiquidationNotice{
		ID:        uuid.New().String(),
		Timestamp: now,
		Account:   account,
		Status:    status,
		Details:   details,
		CreatedAt: now,
	}
}
