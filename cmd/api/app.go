package main

import (
	"database/sql"
	"fmt"

	"callbilling/internal/audit"
	"callbilling/internal/calls"
	"callbilling/internal/config"
	"callbilling/internal/pricing"
	"callbilling/internal/reconcile"
	"callbilling/internal/reporting"
	"callbilling/internal/routing"
	"callbilling/internal/session"
	"callbilling/internal/telephony"
	"callbilling/internal/topup"
	"callbilling/internal/wallet"
	"callbilling/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// app is the wired service graph. Built once at startup; no globals.
type app struct {
	db        *sql.DB
	calls     calls.Store
	wallet    *wallet.Service
	reconcile *reconcile.Service
	reports   *reporting.Service
	callerIDs *routing.Pool
	autoTopup bool

	// carrier names the price source; empty when pricing is duration-only.
	carrier string
}

func newApp(cfg config.Config, db *sql.DB, rdb *redis.Client) (*app, error) {
	callStore := calls.NewPostgresStore(db)
	ledgerRepo := wallet.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	tx := utils.NewSQLTxRunner(db)

	walletSvc := wallet.NewService(ledgerRepo, tx, cfg.Billing.MinCallBalance).WithAudit(auditSvc)

	var (
		prices  pricing.PriceSource
		carrier string
	)
	if p := carrierProvider(cfg.Twilio); p != nil {
		prices = p
		carrier = p.Name()
	}
	estimator := pricing.NewEstimator(pricing.Config{
		PerMinuteRate: cfg.Billing.RatePerMinute,
		Surcharge:     cfg.Billing.Surcharge,
		Multiplier:    cfg.Billing.Multiplier,
		Timeout:       cfg.Billing.PricingTimeout,
	}, prices)

	entries, err := routing.ParsePool(cfg.Twilio.CallerIDPool)
	if err != nil {
		return nil, fmt.Errorf("caller id pool: %w", err)
	}
	pool := routing.NewPool(entries, nil)

	deps := reconcile.Deps{
		Calls:     callStore,
		Hints:     session.NewRedisStore(rdb, cfg.Billing.SessionHintTTL),
		Pricing:   estimator,
		Ledger:    walletSvc,
		Tx:        tx,
		CallerIDs: pool,
		Policy: reconcile.MatchPolicy{
			SiblingWindow:     cfg.Billing.SiblingWindow,
			ProvisionalMaxAge: cfg.Billing.ProvisionalMaxAge,
		},
	}

	autoTopup := false
	if cfg.Stripe.SecretKey != "" {
		raw := cfg.Stripe.Packages
		if raw == "" {
			raw = topup.DefaultCatalog
		}
		catalog, err := topup.ParseCatalog(raw)
		if err != nil {
			return nil, fmt.Errorf("topup packages: %w", err)
		}
		trigger := topup.NewTrigger(topup.Config{
			Catalog:       catalog,
			Currency:      cfg.Stripe.Currency,
			ChargeTimeout: cfg.Billing.ChargeTimeout,
		}, walletSvc, topup.NewStripeCharger(cfg.Stripe.SecretKey), topup.NewRedisLocker(rdb, 0)).WithAudit(auditSvc)
		deps.Topup = trigger
		autoTopup = true
	}

	return &app{
		db:        db,
		calls:     callStore,
		wallet:    walletSvc,
		reconcile: reconcile.NewService(deps),
		reports:   reporting.NewService(reporting.NewStoreRepo(callStore, ledgerRepo)),
		callerIDs: pool,
		autoTopup: autoTopup,
		carrier:   carrier,
	}, nil
}

func carrierProvider(cfg config.TwilioConfig) telephony.Provider {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil
	}
	return telephony.NewTwilioProvider(cfg.AccountSID, cfg.AuthToken)
}
