package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/logger"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/service"
)

var (
	dryRun        = flag.Bool("dry-run", true, "Dry run mode, only list what would be resynced")
	resyncStale   = flag.Bool("resync-stale", true, "Resync ACTIVE subscriptions whose period has ended")
	reportDead    = flag.Bool("report-dead", true, "List events that exhausted their retries")
	verifyWallets = flag.Bool("verify-wallets", false, "Check every wallet balance against its ledger")
	limit         = flag.Int("limit", 500, "Max rows per task")
)

func main() {
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.Log, "billing-cleanup")

	log.Info().Bool("dry_run", *dryRun).Msg("starting reconciliation task")

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	stripeClient, err := processor.NewStripeClient(cfg.Stripe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init payment processor client")
	}

	// 一次性任务不需要锁与重放队列
	svcs := app.Build(cfg, db, nil, stripeClient, nil)
	ctx := context.Background()
	failed := false

	// 1. 账期已过的 ACTIVE 镜像
	if *resyncStale {
		if *dryRun {
			cutoff := time.Now().Add(-time.Duration(cfg.Billing.StaleGraceHours) * time.Hour)
			stale, err := repository.NewSubscriptionRepository(db).ListStaleActive(cutoff, *limit)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to list stale subscriptions")
			}
			for _, sub := range stale {
				log.Info().
					Int64("subscription_id", sub.ID).
					Str("remote_subscription_id", sub.RemoteID()).
					Time("current_period_end", *sub.CurrentPeriodEnd).
					Msg("[dry-run] would resync")
			}
			log.Info().Int("count", len(stale)).Msg("[dry-run] stale subscriptions")
		} else {
			report, err := svcs.Reconcile.ResyncStale(ctx, *limit)
			if err != nil {
				log.Fatal().Err(err).Msg("resync failed")
			}
			if report.Failures > 0 {
				failed = true
			}
		}
	}

	// 2. 重试耗尽的事件
	if *reportDead {
		dead, err := svcs.Reconcile.ReportDead(ctx, *limit)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list dead events")
		}
		log.Info().Int("count", len(dead)).Msg("dead events")
	}

	// 3. 钱包余额与流水核对
	if *verifyWallets {
		if !checkWallets(svcs.WalletRepo, svcs.Points, *limit) {
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	log.Info().Msg("reconciliation task finished")
}

func checkWallets(walletRepo *repository.WalletRepository, points *service.PointsService, batch int) bool {
	ok := true
	checked := 0
	var after int64
	for {
		ids, err := walletRepo.ListUserIDs(after, batch)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list wallets")
		}
		if len(ids) == 0 {
			break
		}
		for _, userID := range ids {
			checked++
			if err := points.VerifyWallet(userID); err != nil {
				if errors.Is(err, service.ErrLedgerMismatch) {
					ok = false
					log.Error().Err(err).Int64("user_id", userID).Msg("wallet ledger mismatch")
					continue
				}
				log.Fatal().Err(err).Int64("user_id", userID).Msg("failed to verify wallet")
			}
		}
		after = ids[len(ids)-1]
	}
	log.Info().Int("checked", checked).Bool("ok", ok).Msg("wallet verification finished")
	return ok
}
