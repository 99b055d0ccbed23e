package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	creditservice "github.com/smallbiznis/apotheca/internal/credit/service"
	customerdomain "github.com/smallbiznis/apotheca/internal/customer/domain"
	customerrepo "github.com/smallbiznis/apotheca/internal/customer/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	account, err := svc.CreateAccount(ctx, orgID, customerID, 50000, "usd")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("expected zero opening balance, got %d", account.Balance)
	}
	if account.Currency != "USD" {
		t.Fatalf("expected normalized currency USD, got %s", account.Currency)
	}
	if account.Status != creditdomain.AccountStatusActive {
		t.Fatalf("expected active status, got %s", account.Status)
	}

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); !errors.Is(err, creditdomain.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	if _, err := svc.CreateAccount(ctx, orgID, node.Generate(), 10000, "USD"); !errors.Is(err, customerdomain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	if _, err := svc.CreateAccount(ctx, orgID, customerID, -1, "USD"); !errors.Is(err, creditdomain.ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestApplyTransactionUpdatesBalance(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	txn, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     4000,
		Fee:        100,
		DueDate:    time.Now().Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("apply transaction: %v", err)
	}
	if txn.Status != creditdomain.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %s", txn.Status)
	}

	account, err := svc.GetAccount(ctx, orgID, customerID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 4000 {
		t.Fatalf("expected balance 4000, got %d", account.Balance)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM credit_transactions", 1)
}

func TestApplyTransactionLimitExceededRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     8000,
		DueDate:    time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	_, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     3000,
		DueDate:    time.Now().Add(24 * time.Hour),
	})
	var limitErr *creditdomain.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Balance != 8000 || limitErr.CreditLimit != 10000 || limitErr.Requested != 3000 {
		t.Fatalf("unexpected limit error figures: %+v", limitErr)
	}

	account, err := svc.GetAccount(ctx, orgID, customerID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 8000 {
		t.Fatalf("expected balance unchanged at 8000, got %d", account.Balance)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM credit_transactions", 1)
}

func TestApplyTransactionConcurrentSerializes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	// Two applications of 7000 against a 10000 limit: only one fits.
	// Both goroutines race the same account row; the locked unit of
	// work must serialize them so they cannot both read balance 0.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
				OrgID:      orgID,
				CustomerID: customerID,
				Amount:     7000,
				DueDate:    time.Now().Add(24 * time.Hour),
			})
		}(i)
	}
	wg.Wait()

	var successes, limitRejections int
	for _, err := range errs {
		var limitErr *creditdomain.LimitExceededError
		switch {
		case err == nil:
			successes++
		case errors.As(err, &limitErr):
			limitRejections++
		default:
			t.Fatalf("unexpected apply error: %v", err)
		}
	}
	if successes != 1 || limitRejections != 1 {
		t.Fatalf("expected exactly one success and one limit rejection, got %d/%d", successes, limitRejections)
	}

	account, err := svc.GetAccount(ctx, orgID, customerID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance != 7000 {
		t.Fatalf("expected balance 7000, got %d", account.Balance)
	}

	assertCount(t, db, "SELECT COUNT(1) FROM credit_transactions", 1)
}

func TestApplyTransactionInactiveAccount(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := db.Exec("UPDATE credit_accounts SET status = 'suspended'").Error; err != nil {
		t.Fatalf("suspend account: %v", err)
	}

	_, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     1000,
		DueDate:    time.Now().Add(24 * time.Hour),
	})
	if !errors.Is(err, creditdomain.ErrAccountNotActive) {
		t.Fatalf("expected ErrAccountNotActive, got %v", err)
	}
}

func TestUpdateBalanceScopedByOrg(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	account, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := svc.UpdateBalance(ctx, node.Generate(), account.ID, 500); !errors.Is(err, creditdomain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for foreign org, got %v", err)
	}

	updated, err := svc.UpdateBalance(ctx, orgID, account.ID, 500)
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if updated.Balance != 500 {
		t.Fatalf("expected balance 500, got %d", updated.Balance)
	}

	if _, err := svc.UpdateBalance(ctx, orgID, account.ID, -1); !errors.Is(err, creditdomain.ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
}

func TestMarkTransactionPaid(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 10000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	txn, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     1000,
		DueDate:    time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("apply transaction: %v", err)
	}

	paid, err := svc.MarkTransactionPaid(ctx, orgID, txn.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != creditdomain.TransactionStatusPaid {
		t.Fatalf("expected paid status, got %s", paid.Status)
	}
	if paid.PaidDate == nil {
		t.Fatal("expected paid_date to be set")
	}

	if _, err := svc.MarkTransactionPaid(ctx, orgID, txn.ID, time.Now().UTC()); !errors.Is(err, creditdomain.ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending on second call, got %v", err)
	}

	if _, err := svc.MarkTransactionPaid(ctx, orgID, node.Generate(), time.Now().UTC()); !errors.Is(err, creditdomain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSweepOverdue(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc, node := newCreditService(t, db)

	orgID := node.Generate()
	customerID := node.Generate()
	seedCustomer(t, db, orgID, customerID)

	if _, err := svc.CreateAccount(ctx, orgID, customerID, 100000, "USD"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	pastDue, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     1000,
		DueDate:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("apply past due transaction: %v", err)
	}

	settled, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     2000,
		DueDate:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("apply settled transaction: %v", err)
	}
	if _, err := svc.MarkTransactionPaid(ctx, orgID, settled.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	future, err := svc.ApplyTransaction(ctx, creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     3000,
		DueDate:    time.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("apply future transaction: %v", err)
	}

	swept, err := svc.SweepOverdue(ctx, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sweep overdue: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept transaction, got %d", swept)
	}

	assertStatus(t, db, pastDue.ID, "overdue")
	assertStatus(t, db, settled.ID, "paid")
	assertStatus(t, db, future.ID, "pending")
}

func newCreditService(t *testing.T, db *gorm.DB) (creditdomain.Service, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	svc := creditservice.NewService(creditservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		CustomerRepo: customerrepo.Provide(),
	})
	return svc, node
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE credit_accounts (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			currency TEXT NOT NULL,
			credit_limit BIGINT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_credit_accounts_org_customer ON credit_accounts(org_id, customer_id)`,
		`CREATE TABLE credit_transactions (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			credit_account_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			order_id BIGINT,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			due_date TIMESTAMP NOT NULL,
			paid_date TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func seedCustomer(t *testing.T, db *gorm.DB, orgID, customerID snowflake.ID) {
	t.Helper()

	now := time.Now().UTC()
	err := db.Exec(
		"INSERT INTO customers (id, org_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		customerID,
		orgID,
		"Corner Pharmacy",
		now,
		now,
	).Error
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func assertStatus(t *testing.T, db *gorm.DB, trxID snowflake.ID, expected string) {
	t.Helper()

	var status string
	if err := db.Raw("SELECT status FROM credit_transactions WHERE id = ?", trxID).Scan(&status).Error; err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != expected {
		t.Fatalf("expected status %s, got %s", expected, status)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
