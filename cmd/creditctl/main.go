package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
	domaincredit "github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/infrastructure/cache"
	"github.com/tallydash/backend/internal/infrastructure/config"
	"github.com/tallydash/backend/internal/infrastructure/logger"
	"github.com/tallydash/backend/internal/infrastructure/persistence"
)

// creditctl is the operator's view into tenant credit ledgers: inspect
// balances, bust the request-path memo cache, and force a deduction pass
// without waiting for the scheduler.
func main() {
	var (
		tenantIDFlag string
		clearCache   bool
		deduct       bool
		logLevel     string
	)

	flag.StringVar(&tenantIDFlag, "tenant-id", "", "Inspect a single tenant by UUID")
	flag.BoolVar(&clearCache, "clear-cache", false, "Clear request-path credit memos")
	flag.BoolVar(&deduct, "deduct", false, "Run a deduction pass (all tenants, or the one given by -tenant-id)")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var memo domaincredit.MemoStore
	redisMemo, err := cache.NewRedisMemoStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, memo state will read as absent", zap.Error(err))
	} else {
		defer redisMemo.Close()
		memo = redisMemo
	}

	service := appcredit.NewService(
		persistence.NewGormTenantRepository(db.DB),
		persistence.NewGormUserRepository(db.DB),
		memo,
		domaincredit.SystemClock{},
		log,
		appcredit.Config{LowCreditThreshold: cfg.Credit.LowCreditThreshold},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var tenantID uuid.UUID
	if tenantIDFlag != "" {
		tenantID, err = uuid.Parse(tenantIDFlag)
		if err != nil {
			log.Fatal("Invalid -tenant-id", zap.String("value", tenantIDFlag))
		}
	}

	if clearCache {
		cleared, err := service.ClearMemos(ctx)
		if err != nil {
			log.Fatal("Failed to clear credit memos", zap.Error(err))
		}
		fmt.Printf("Cleared %d credit memo(s)\n", cleared)
	}

	if deduct {
		if tenantID != uuid.Nil {
			result, err := service.DeductDailyCredit(ctx, tenantID)
			if err != nil {
				log.Fatal("Deduction failed", zap.Error(err))
			}
			printDeduction(tenantID, result)
		} else {
			stats, err := service.ProcessAllTenants(ctx)
			if err != nil {
				log.Fatal("Deduction pass failed", zap.Error(err))
			}
			fmt.Printf("Pass complete: %d tenant(s), %d processed, %d deducted, %d deactivated, %d failed\n",
				stats.Total, stats.Processed, stats.Deducted, stats.Deactivated, stats.Failed)
		}
	}

	if tenantID != uuid.Nil {
		status, err := service.InspectTenant(ctx, tenantID)
		if err != nil {
			log.Fatal("Failed to inspect tenant", zap.Error(err))
		}
		printStatus(*status)
		return
	}

	statuses, err := service.InspectAll(ctx)
	if err != nil {
		log.Fatal("Failed to inspect tenants", zap.Error(err))
	}
	if len(statuses) == 0 {
		fmt.Println("No tenants found")
		return
	}
	for _, status := range statuses {
		printStatus(status)
	}
	fmt.Printf("%d tenant(s)\n", len(statuses))
}

func printStatus(s appcredit.TenantCreditStatus) {
	last := "never"
	if s.LastCreditDeducted != nil {
		last = s.LastCreditDeducted.In(domaincredit.IST()).Format("2006-01-02")
	}
	fmt.Printf("%s  %-24s %-12s credits=%-5d active=%-5t last_deducted=%s memo=%t due=%t\n",
		s.TenantID, s.Name, s.Status, s.Credits, s.IsActive, last, s.MemoPresent, s.DeductionDue)
}

func printDeduction(tenantID uuid.UUID, r appcredit.DeductionResult) {
	if !r.Deducted {
		fmt.Printf("%s  no deduction due (remaining=%d)\n", tenantID, r.Remaining)
		return
	}
	fmt.Printf("%s  deducted %d credit(s), remaining=%d deactivated=%t\n",
		tenantID, r.CreditsRemoved, r.Remaining, r.Deactivated)
}
