// Command saascore-sweeper runs the periodic maintenance jobs: expired
// invitation cleanup, expired coupon deactivation, and lapsed subscription
// expiry. It is deployed as a singleton alongside the API servers.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/SylTi/saascore/pkg/billing"
	"github.com/SylTi/saascore/pkg/config"
	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/tenants"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	runOnce := flag.Bool("once", false, "Run every job once and exit")
	flag.Parse()

	if err := run(*configPath, *runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "saascore-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, runOnce bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	runner := dbcontext.NewRunner(db)
	tiers := billing.NewTierService(db, runner, cfg.Cache.TierCacheSize, cfg.Cache.TierCacheTTL)
	tenantService := tenants.NewPostgresService(db, runner, tiers)
	coupons := billing.NewCouponService(db, runner)

	jobs := []struct {
		name     string
		schedule string
		fn       func(context.Context) (int64, error)
	}{
		{"expired invitations", cfg.Sweeper.InvitationSchedule, tenantService.CleanupExpiredInvitations},
		{"expired coupons", cfg.Sweeper.CouponSchedule, coupons.DeactivateExpiredCoupons},
		{"lapsed subscriptions", cfg.Sweeper.SubscriptionSchedule, tiers.ExpireLapsedSubscriptions},
	}

	if runOnce {
		for _, job := range jobs {
			sweep(logger, job.name, job.fn)
		}
		return nil
	}

	c := cron.New()
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.schedule, func() {
			sweep(logger, job.name, job.fn)
		}); err != nil {
			return fmt.Errorf("invalid schedule for %s: %w", job.name, err)
		}
	}

	logger.Info("sweeper started")
	c.Start()

	shutdown := observability.NewShutdownManager(logger, 30*time.Second)
	shutdown.Register("cron", func(ctx context.Context) error {
		stop := c.Stop()
		select {
		case <-stop.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Wait()
	return nil
}

func sweep(logger *slog.Logger, name string, fn func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	affected, err := fn(ctx)
	if err != nil {
		logger.Error("sweep failed", "job", name, "error", err)
		return
	}
	logger.Info("sweep complete", "job", name, "affected", affected)
}
