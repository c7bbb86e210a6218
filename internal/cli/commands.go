package cli

import (
	"context"
	"fmt"
	"sort"

	"rental-marketplace/config"
	"rental-marketplace/internal/broker"
	"rental-marketplace/internal/redisclient"
	"rental-marketplace/internal/service"
	"rental-marketplace/internal/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewMigrateCommand applies the database schema.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			db, err := openStore(config.Load())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

// NewSweepCommand expires lapsed payment attempts once, the same pass the
// server's sweeper runs on a timer.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed payment attempts and fail their payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			cfg := config.Load()
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRental)
			defer producer.Close()

			payments := service.NewPaymentService(db, nil, nil, broker.NewEventPublisher(producer),
				service.Pricing{Currency: cfg.Billing.Currency}, service.PaymentConfig{})

			n, err := payments.ExpireAttempts(ctx)
			if err != nil {
				return fmt.Errorf("expire attempts: %w", err)
			}
			util.GetLogger().Debug("Sweep finished", zap.Int64("expired", n))
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payment attempt(s)\n", n)
			return nil
		},
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewCheckCommand pings the database and redis.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to postgres and redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			cfg := config.Load()
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rdb, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer rdb.Close()

			return runChecks(ctx, cmd, map[string]pinger{"postgres": db, "redis": rdb})
		},
	}
}

func runChecks(ctx context.Context, cmd *cobra.Command, checks map[string]pinger) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]error, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, p := i, checks[name]
		g.Go(func() error {
			results[i] = p.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, name := range names {
		if results[i] != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s FAIL %v\n", name, results[i])
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s ok\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(names))
	}
	return nil
}
