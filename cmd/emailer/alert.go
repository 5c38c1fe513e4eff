package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAlertCommand(a *app) *cobra.Command {
	var (
		subject string
		msg     string
		extra   []string
	)
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Send a message to the configured administrators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			e, err := c.service.SendToAdministrators(cmd.Context(), subject, msg, extra)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.ID, e.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "alert subject")
	cmd.Flags().StringVar(&msg, "message", "", "alert message")
	cmd.Flags().StringSliceVar(&extra, "to", nil, "additional recipients")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
