package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/apotheca/internal/audit/domain"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	customerdomain "github.com/smallbiznis/apotheca/internal/customer/domain"
	obsmetrics "github.com/smallbiznis/apotheca/internal/observability/metrics"
	"github.com/smallbiznis/apotheca/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	CustomerRepo customerdomain.Repository
	AuditSvc     auditdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	customerRepo customerdomain.Repository
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("credit.service"),
		genID:        p.GenID,
		customerRepo: p.CustomerRepo,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) CreateAccount(ctx context.Context, orgID, customerID snowflake.ID, creditLimit int64, currency string) (*creditdomain.CreditAccount, error) {
	if orgID == 0 || customerID == 0 {
		return nil, customerdomain.ErrCustomerNotFound
	}
	if creditLimit < 0 {
		return nil, creditdomain.ErrInvalidLimit
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, creditdomain.ErrInvalidCurrency
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, customerdomain.ErrCustomerNotFound
	}

	now := time.Now().UTC()
	account := creditdomain.CreditAccount{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		CustomerID:  customerID,
		Currency:    currency,
		CreditLimit: creditLimit,
		Balance:     0,
		Status:      creditdomain.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Exec(
		`INSERT INTO credit_accounts (
			id, org_id, customer_id, currency, credit_limit, balance, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.OrgID,
		account.CustomerID,
		account.Currency,
		account.CreditLimit,
		account.Balance,
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, creditdomain.ErrAccountExists
		}
		return nil, err
	}

	s.writeAudit(ctx, orgID, "credit.account_created", "credit_account", account.ID, map[string]any{
		"customer_id":  customerID.String(),
		"credit_limit": creditLimit,
		"currency":     currency,
	})

	return &account, nil
}

func (s *Service) GetAccount(ctx context.Context, orgID, customerID snowflake.ID) (*creditdomain.CreditAccount, error) {
	account, err := s.loadAccount(ctx, s.db, orgID, customerID, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, creditdomain.ErrAccountNotFound
	}
	return account, nil
}

// ApplyTransaction inserts a transaction and moves the account balance
// in one database transaction. The account row is locked for the
// duration so two concurrent applications cannot both read the same
// balance; a transaction that would exceed the limit rolls back whole.
func (s *Service) ApplyTransaction(ctx context.Context, req creditdomain.ApplyTransactionRequest) (*creditdomain.CreditTransaction, error) {
	if req.OrgID == 0 || req.CustomerID == 0 {
		return nil, creditdomain.ErrAccountNotFound
	}
	if req.Amount <= 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	if req.Fee < 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	if req.DueDate.IsZero() {
		return nil, creditdomain.ErrInvalidDueDate
	}

	var txn creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.loadAccount(ctx, tx, req.OrgID, req.CustomerID, true)
		if err != nil {
			return err
		}
		if account == nil {
			return creditdomain.ErrAccountNotFound
		}
		if account.Status != creditdomain.AccountStatusActive {
			return creditdomain.ErrAccountNotActive
		}

		newBalance := account.Balance + req.Amount
		if newBalance > account.CreditLimit {
			return &creditdomain.LimitExceededError{
				Balance:     account.Balance,
				CreditLimit: account.CreditLimit,
				Requested:   req.Amount,
			}
		}

		now := time.Now().UTC()
		txn = creditdomain.CreditTransaction{
			ID:              s.genID.Generate(),
			OrgID:           req.OrgID,
			CreditAccountID: account.ID,
			CustomerID:      req.CustomerID,
			OrderID:         req.OrderID,
			Amount:          req.Amount,
			Fee:             req.Fee,
			DueDate:         req.DueDate.UTC(),
			Status:          creditdomain.TransactionStatusPending,
			CreatedAt:       now,
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO credit_transactions (
				id, org_id, credit_account_id, customer_id, order_id,
				amount, fee, due_date, paid_date, status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			txn.ID,
			txn.OrgID,
			txn.CreditAccountID,
			txn.CustomerID,
			txn.OrderID,
			txn.Amount,
			txn.Fee,
			txn.DueDate,
			nil,
			string(txn.Status),
			txn.CreatedAt,
		).Error; err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET balance = ?, updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			newBalance,
			now,
			account.ID,
			req.OrgID,
		).Error
	})
	if err != nil {
		if _, ok := limitExceeded(err); ok {
			s.obsMetrics.RecordCreditRejection(ctx)
		}
		return nil, err
	}

	s.obsMetrics.RecordCreditTransaction(ctx, string(txn.Status))
	return &txn, nil
}

// UpdateBalance overrides the account balance directly, for manual
// corrections. Scoped by (account, org) so one tenant cannot touch
// another tenant's account.
func (s *Service) UpdateBalance(ctx context.Context, orgID, accountID snowflake.ID, newBalance int64) (*creditdomain.CreditAccount, error) {
	if newBalance < 0 {
		return nil, creditdomain.ErrInvalidBalance
	}

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE credit_accounts
		 SET balance = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		newBalance,
		now,
		accountID,
		orgID,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, creditdomain.ErrAccountNotFound
	}

	s.writeAudit(ctx, orgID, "credit.balance_overridden", "credit_account", accountID, map[string]any{
		"new_balance": newBalance,
	})

	var account creditdomain.CreditAccount
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, currency, credit_limit, balance, status, created_at, updated_at
		 FROM credit_accounts
		 WHERE id = ? AND org_id = ?
		 LIMIT 1`,
		accountID,
		orgID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// MarkTransactionPaid moves a pending transaction to paid. Paid is
// terminal; the guard in the WHERE clause makes the call idempotent-safe
// against double submission.
func (s *Service) MarkTransactionPaid(ctx context.Context, orgID, transactionID snowflake.ID, paidAt time.Time) (*creditdomain.CreditTransaction, error) {
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).Exec(
		`UPDATE credit_transactions
		 SET status = ?, paid_date = ?
		 WHERE id = ? AND org_id = ? AND status = ?`,
		string(creditdomain.TransactionStatusPaid),
		paidAt.UTC(),
		transactionID,
		orgID,
		string(creditdomain.TransactionStatusPending),
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		txn, err := s.loadTransaction(ctx, orgID, transactionID)
		if err != nil {
			return nil, err
		}
		if txn == nil {
			return nil, creditdomain.ErrTransactionNotFound
		}
		return nil, creditdomain.ErrTransactionNotPending
	}

	return s.loadTransaction(ctx, orgID, transactionID)
}

// SweepOverdue flips pending transactions past their due date to
// overdue across all tenants. Driven by the scheduler.
func (s *Service) SweepOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE credit_transactions
		 SET status = ?
		 WHERE status = ? AND due_date < ?`,
		string(creditdomain.TransactionStatusOverdue),
		string(creditdomain.TransactionStatusPending),
		asOf.UTC(),
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("overdue sweep completed", zap.Int64("transactions", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Service) loadAccount(ctx context.Context, tx *gorm.DB, orgID, customerID snowflake.ID, forUpdate bool) (*creditdomain.CreditAccount, error) {
	query := `SELECT id, org_id, customer_id, currency, credit_limit, balance, status, created_at, updated_at
		 FROM credit_accounts
		 WHERE org_id = ? AND customer_id = ?`

	if forUpdate && tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var account creditdomain.CreditAccount
	err := tx.WithContext(ctx).Raw(query, orgID, customerID).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (s *Service) loadTransaction(ctx context.Context, orgID, transactionID snowflake.ID) (*creditdomain.CreditTransaction, error) {
	var txn creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, credit_account_id, customer_id, order_id,
			amount, fee, due_date, paid_date, status, created_at
		 FROM credit_transactions
		 WHERE id = ? AND org_id = ?
		 LIMIT 1`,
		transactionID,
		orgID,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (s *Service) writeAudit(ctx context.Context, orgID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "system", nil, action, targetType, &target, metadata); err != nil {
		s.log.Warn("failed to write credit audit log", zap.String("action", action), zap.Error(err))
	}
}

func limitExceeded(err error) (*creditdomain.LimitExceededError, bool) {
	var limitErr *creditdomain.LimitExceededError
	if errors.As(err, &limitErr) {
		return limitErr, true
	}
	return nil, false
}
