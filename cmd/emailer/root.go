package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sungwon/emailer/internal/config"
	"github.com/sungwon/emailer/internal/logger"
)

// newRootCommand builds the command tree. The returned app must be closed
// once the command has finished.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{}
	var configPath string

	root := &cobra.Command{
		Use:           "emailer",
		Short:         "Email dispatch queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			log, sink := logger.NewFromConfig(logger.LoggingConfig{
				Level:      cfg.Logging.Level,
				Output:     cfg.Logging.Output,
				FilePath:   cfg.Logging.FilePath,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxFiles:   cfg.Logging.MaxFiles,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
				Compress:   cfg.Logging.Compress,
			})
			a.log = log
			a.closers = append(a.closers, func() { _ = sink.Close() })
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config", "directory holding config.yaml")

	root.AddCommand(
		newWorkerCommand(a),
		newGCCommand(a),
		newMigrateCommand(a),
		newServeCommand(a),
		newAlertCommand(a),
	)
	return root, a
}
