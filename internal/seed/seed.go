package seed

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/apotheca/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoCustomerName  = "Corner Pharmacy"
	demoCustomerEmail = "owner@cornerpharmacy.test"
	demoCreditLimit   = 250000
	demoFeeBps        = 150
)

// EnsureDemoData seeds one demo tenant with a customer, a credit
// account, and payment settings. No-op when any customer already
// exists.
func EnsureDemoData(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM customers").Scan(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	orgID := node.Generate()
	customerID := node.Generate()
	now := time.Now().UTC()

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO customers (id, org_id, name, email, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			customerID, orgID, demoCustomerName, demoCustomerEmail, now, now,
		).Error; err != nil {
			return err
		}

		if err := tx.Exec(
			`INSERT INTO credit_accounts (id, org_id, customer_id, currency, credit_limit, balance, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, 'active', ?, ?)`,
			node.Generate(), orgID, customerID, "USD", demoCreditLimit, now, now,
		).Error; err != nil {
			return err
		}

		return tx.Exec(
			`INSERT INTO payment_settings (org_id, application_fee_bps, default_currency, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			orgID, demoFeeBps, "USD", now, now,
		).Error
	})
}

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
		if !cfg.SeedDemo || cfg.Environment == "production" {
			return nil
		}
		if err := EnsureDemoData(db, node); err != nil {
			return err
		}
		log.Info("demo data ensured")
		return nil
	}),
)
