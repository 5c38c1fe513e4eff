package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/emailer/internal/api"
	"github.com/sungwon/emailer/internal/smtp"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and, when smtp.addr is set, SMTP submission",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}

			deps := api.Deps{
				Sender:   c.service,
				Store:    c.queries,
				DB:       c.db,
				Registry: c.registry,
			}
			if c.assembler != nil {
				deps.Assembler = c.assembler
			}

			addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      api.NewRouter(deps, a.log),
				ReadTimeout:  a.cfg.API.ReadTimeout,
				WriteTimeout: a.cfg.API.WriteTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info().Str("addr", addr).Msg("API server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info().Msg("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if sc := a.cfg.SMTP; sc.Addr != "" {
				smtpSrv := smtp.NewServer(smtp.NewBackend(smtp.Config{
					Addr:                 sc.Addr,
					Domain:               sc.Domain,
					MaxConnections:       sc.MaxConnections,
					MaxMessageBytes:      sc.MaxMessageBytes,
					MaxRecipients:        sc.MaxRecipients,
					ReadTimeout:          sc.ReadTimeout,
					WriteTimeout:         sc.WriteTimeout,
					Username:             sc.Username,
					Password:             sc.Password,
					AllowInsecureAuth:    sc.AllowInsecureAuth,
					AllowedSenderDomains: sc.AllowedSenderDomains,
				}, c.service, a.log))
				g.Go(func() error {
					a.log.Info().Str("addr", sc.Addr).Msg("SMTP server listening")
					if err := smtpSrv.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
					defer cancel()
					return smtpSrv.Shutdown(shutdownCtx)
				})
			}
			if withWorker {
				schedule := a.cfg.Queue.Schedule
				g.Go(func() error {
					if schedule != "" {
						return a.workOnSchedule(gctx, c, schedule)
					}
					return a.workLoop(gctx, c)
				})
			}

			err = g.Wait()
			a.log.Info().Msg("server stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "run the queue runner alongside the API")
	return cmd
}

// workLoop starts a new runner pass after each one ends. Failed passes
// are logged by work and retried on the next iteration.
func (a *app) workLoop(ctx context.Context, c *components) error {
	for ctx.Err() == nil {
		_ = a.work(ctx, c)
		select {
		case <-ctx.Done():
		case <-time.After(a.cfg.Queue.CheckIterationDelay):
		}
	}
	return nil
}
