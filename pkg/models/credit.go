package models

import "time"

// TransactionKind classifies a credit ledger entry.
type TransactionKind string

// Credit transaction kinds. The ledger is append-only.
const (
	TransactionAdd    TransactionKind = "ADD"
	TransactionDeduct TransactionKind = "DEDUCT"
	TransactionRefund TransactionKind = "REFUND"
	TransactionReset  TransactionKind = "RESET"
)

// CreditBalance is a user's current credit position.
//
// Invariant: Balance = TotalEarned - TotalUsed after all committed
// transactions.
type CreditBalance struct {
	UserID         string    `db:"user_id" json:"user_id"`
	Balance        int       `db:"balance" json:"balance"`
	UsedThisPeriod int       `db:"used_this_period" json:"used_this_period"`
	NextResetAt    time.Time `db:"next_reset_at" json:"next_reset_at"`
	TotalEarned    int       `db:"total_earned" json:"total_earned"`
	TotalUsed      int       `db:"total_used" json:"total_used"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CreditTransaction is one immutable ledger entry.
type CreditTransaction struct {
	ID            int64           `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"user_id"`
	Kind          TransactionKind `db:"kind" json:"kind"`
	Amount        int             `db:"amount" json:"amount"`
	BalanceAfter  int             `db:"balance_after" json:"balance_after"`
	OperationType *string         `db:"operation_type" json:"operation_type,omitempty"`
	ReferenceID   *string         `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
