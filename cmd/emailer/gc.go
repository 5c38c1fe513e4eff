package main

import (
	"github.com/spf13/cobra"
)

func newGCCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete expired logs and clear old HTML bodies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.collector(c).Run(cmd.Context())
			a.log.Info().
				Int64("common_logs", stats.CommonLogs).
				Int64("email_logs", stats.EmailLogs).
				Int64("html_bodies", stats.HTMLBodies).
				Msg("garbage collection finished")
			return err
		},
	}
}
