// Package cli implements rentalctl, the operator command line for the
// rental marketplace. Commands read the same environment as the server.
package cli

import (
	"fmt"
	"time"

	"rental-marketplace/config"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Timeout time.Duration
	Verbose bool
}

// NewRootCommand creates the rentalctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "rentalctl",
		Short:         "Operate the rental marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Timeout <= 0 {
				return fmt.Errorf("invalid timeout %s: must be positive", opts.Timeout)
			}
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			return util.InitLogger("production", level)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.SyncLogger()
		},
	}

	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "deadline for the whole command")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))

	return cmd
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}
