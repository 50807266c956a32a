package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UnknownOlympus/quadrant/internal/config"
	"github.com/UnknownOlympus/quadrant/internal/logging"
)

// app carries what every subcommand needs once the root hooks ran.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

// newRootCmd creates the root command and wires the subcommands.
func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "quadrant",
		Short: "Exhaustive place discovery by recursive geo partitioning",
		Long: `quadrant discovers every business matching a keyword inside a square region.
Regions whose result page is full are split into four quadrants and re-queued,
so the search keeps narrowing until every sub-region fits in one page.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newWorkerCmd(a),
		newSeedCmd(a),
		newRecoverCmd(a),
		newStatusCmd(a),
		newResetCmd(a),
		newBusinessCmd(a),
	)

	return cmd
}
