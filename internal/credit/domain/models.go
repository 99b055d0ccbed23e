package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AccountStatus represents the lifecycle state of a credit account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusFrozen    AccountStatus = "frozen"
)

// TransactionStatus represents the lifecycle state of a credit transaction.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusPaid    TransactionStatus = "paid"
	TransactionStatusOverdue TransactionStatus = "overdue"
)

// CreditAccount is a customer's revolving balance against a limit,
// one per (org, customer). Sign convention: a positive Balance is the
// amount the customer currently owes; Balance never exceeds CreditLimit.
// Accounts are never deleted; Status carries the soft state.
// Amounts are int64 minor units of Currency.
type CreditAccount struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID  `json:"org_id" gorm:"not null;index;uniqueIndex:ux_credit_accounts_org_customer,priority:1"`
	CustomerID  snowflake.ID  `json:"customer_id" gorm:"not null;uniqueIndex:ux_credit_accounts_org_customer,priority:2"`
	Currency    string        `json:"currency" gorm:"type:text;not null"`
	CreditLimit int64         `json:"credit_limit" gorm:"not null"`
	Balance     int64         `json:"balance" gorm:"not null"`
	Status      AccountStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"not null"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction records a single charge against a credit account.
// Immutable once created except for the status/paid_date transition.
type CreditTransaction struct {
	ID              snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID      `json:"org_id" gorm:"not null;index"`
	CreditAccountID snowflake.ID      `json:"credit_account_id" gorm:"not null;index"`
	CustomerID      snowflake.ID      `json:"customer_id" gorm:"not null"`
	OrderID         *snowflake.ID     `json:"order_id,omitempty"`
	Amount          int64             `json:"amount" gorm:"not null"`
	Fee             int64             `json:"fee" gorm:"not null"`
	DueDate         time.Time         `json:"due_date" gorm:"not null"`
	PaidDate        *time.Time        `json:"paid_date,omitempty"`
	Status          TransactionStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt       time.Time         `json:"created_at" gorm:"not null"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }
