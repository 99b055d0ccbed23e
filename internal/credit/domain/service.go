package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ApplyTransactionRequest struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	Amount     int64
	Fee        int64
	DueDate    time.Time
	OrderID    *snowflake.ID
}

type Service interface {
	CreateAccount(ctx context.Context, orgID, customerID snowflake.ID, creditLimit int64, currency string) (*CreditAccount, error)
	GetAccount(ctx context.Context, orgID, customerID snowflake.ID) (*CreditAccount, error)
	ApplyTransaction(ctx context.Context, req ApplyTransactionRequest) (*CreditTransaction, error)
	UpdateBalance(ctx context.Context, orgID, accountID snowflake.ID, newBalance int64) (*CreditAccount, error)
	MarkTransactionPaid(ctx context.Context, orgID, transactionID snowflake.ID, paidAt time.Time) (*CreditTransaction, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

var (
	ErrAccountNotFound       = errors.New("credit_account_not_found")
	ErrAccountExists         = errors.New("credit_account_exists")
	ErrAccountNotActive      = errors.New("credit_account_not_active")
	ErrTransactionNotFound   = errors.New("credit_transaction_not_found")
	ErrTransactionNotPending = errors.New("credit_transaction_not_pending")
	ErrInvalidLimit          = errors.New("invalid_credit_limit")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidBalance        = errors.New("invalid_balance")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidDueDate        = errors.New("invalid_due_date")
)

// LimitExceededError reports a transaction that would push the balance
// past the account's limit. It carries the figures the caller needs for
// a precise message without re-querying.
type LimitExceededError struct {
	Balance     int64
	CreditLimit int64
	Requested   int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("credit_limit_exceeded: balance=%d limit=%d requested=%d",
		e.Balance, e.CreditLimit, e.Requested)
}
