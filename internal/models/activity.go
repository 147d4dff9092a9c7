package models

import (
	"time"

	"github.com/delegation-service/internal/types"
)

// ActivityEvent is an append-only ledger entry for a child account
type ActivityEvent struct {
	ID               string             `json:"id" ch:"id"`
	ChildAddress     string             `json:"childAddress" ch:"child_address"`
	DelegatorAddress string             `json:"delegatorAddress" ch:"delegator_address"`
	Kind             types.ActivityKind `json:"kind" ch:"kind"`
	Amount           float64            `json:"amount" ch:"amount"`
	TransactionID    string             `json:"transactionId,omitempty" ch:"transaction_id"`
	Error            string             `json:"error,omitempty" ch:"error"`
	CreatedAt        time.Time          `json:"createdAt" ch:"created_at"`
}
