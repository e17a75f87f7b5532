package domain

import "time"

// ExecutionKind classifies an execution attempt.
type ExecutionKind string

const (
	ExecutionArbitrage   ExecutionKind = "arbitrage"
	ExecutionLiquidation ExecutionKind = "liquidation"
)

// ExecutionRecord is one outcome of the execution pipeline. Records are
// append-only and are the sole input to the adaptive controller.
type ExecutionRecord struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Kind       ExecutionKind `json:"kind"`
	Protocol   string        `json:"protocol"`
	Account    string        `json:"account"`
	Debt       float64       `json:"debt"`
	Collateral float64       `json:"collateral"`
	Success    bool          `json:"success"`
	Profit     float64       `json:"profit"`
	GasUsed    *uint64       `json:"gas_used,omitempty"`
	TxHash     *string       `json:"tx_hash,omitempty"`
	Error      *string       `json:"error,omitempty"`
	DryRun     bool          `json:"dry_run"`
}
