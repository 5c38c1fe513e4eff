package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/attachment"
	"github.com/sungwon/emailer/internal/config"
	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/gc"
	"github.com/sungwon/emailer/internal/locale"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/queue"
	"github.com/sungwon/emailer/internal/render"
	"github.com/sungwon/emailer/internal/report"
	"github.com/sungwon/emailer/internal/storage"
	"github.com/sungwon/emailer/internal/transport"
)

// leaseSlack keeps the lease alive a little past the runner timeout so a
// slow final send does not let a second runner start.
const leaseSlack = 30 * time.Second

// retryJitter spreads queued retries of emails that failed together.
const retryJitter = 0.1

// app holds configuration and the lazily built collaborators shared by the
// subcommands.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	db      *storage.DB
	redis   *redis.Client
	flush   func(time.Duration) bool
	closers []func()
}

// components is everything a command may need once the database is open.
type components struct {
	db        *storage.DB
	queries   storage.Querier
	transport transport.Transport
	reporter  report.Reporter
	builder   *message.Builder
	audit     *emailer.DBLogger
	service   *emailer.Service
	assembler *emailer.Assembler
	registry  *emailer.Registry
}

func (a *app) close() {
	if a.flush != nil {
		a.flush(2 * time.Second)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openDB(ctx context.Context) (*storage.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is not set")
	}
	db, err := storage.NewDB(ctx,
		a.cfg.Database.URL,
		a.cfg.Database.PoolMin,
		a.cfg.Database.PoolMax,
		a.cfg.Database.ConnectTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.log.Info().Msg("database connection established")
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) build(ctx context.Context) (*components, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	c := &components{db: db, queries: db.Queries()}

	reporter, flush, err := report.New(report.Config{
		DSN:         a.cfg.Sentry.DSN,
		Environment: a.cfg.Sentry.Environment,
	}, a.log)
	if err != nil {
		return nil, err
	}
	c.reporter = reporter
	a.flush = flush

	c.transport, err = transport.New(transportConfig(a.cfg.Transport), a.log)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	ac := a.cfg.Attachments
	files, err := attachment.New(ctx, attachment.Config{
		Type:       ac.Type,
		Path:       ac.Path,
		S3Bucket:   ac.S3Bucket,
		S3Prefix:   ac.S3Prefix,
		S3Endpoint: ac.S3Endpoint,
		S3Region:   ac.S3Region,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("create attachment store: %w", err)
	}

	opts := []message.Option{message.WithAttachmentStore(files)}
	if mc := a.cfg.Mail; mc.DKIMKeyPath != "" {
		signer, err := message.LoadSigner(mc.DKIMDomain, mc.DKIMSelector, mc.DKIMKeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, message.WithSigner(signer))
	}
	if host, err := os.Hostname(); err == nil {
		opts = append(opts, message.WithHostname(host))
	}
	c.builder = message.NewBuilder(opts...)

	resolver, err := a.localeResolver()
	if err != nil {
		return nil, err
	}
	fix := fixer.NewDomainFixer()

	c.audit = emailer.NewDBLogger(c.queries, a.log, time.Now)
	c.service = emailer.New(emailer.Config{
		UseQueue:              a.cfg.Queue.UseQueue,
		ImmediateRetryBackoff: a.cfg.Queue.ImmediateRetryBackoff,
		AttachmentGrace:       a.cfg.Queue.AttachmentGrace,
		DefaultFrom:           a.cfg.Mail.DefaultFrom,
		AdminEmails:           a.cfg.Mail.AdminEmails,
	}, c.queries, c.builder, c.transport, c.reporter, a.log,
		emailer.WithAttachmentStore(files),
		emailer.WithLocaleResolver(resolver),
		emailer.WithFixer(fix),
	)

	c.registry, err = a.registry()
	if err != nil {
		return nil, err
	}
	if c.registry != nil {
		c.assembler = emailer.NewAssembler(c.registry,
			render.NewDefaultChain(os.DirFS(a.cfg.Mail.TemplateDir)),
			fix, resolver,
			a.cfg.Mail.DefaultLocale, a.cfg.Mail.DefaultFrom)
	}
	return c, nil
}

func transportConfig(tc config.TransportConfig) transport.Config {
	out := transport.Config{
		Type:         tc.Type,
		Host:         tc.Host,
		Port:         tc.Port,
		Username:     tc.Username,
		Password:     tc.Password,
		TLS:          tc.TLS,
		Helo:         tc.Helo,
		SendmailPath: tc.SendmailPath,
		ResendAPIKey: tc.ResendAPIKey,
		OutputDir:    tc.OutputDir,
		Timeout:      tc.Timeout,
	}
	for _, fc := range tc.Fallbacks {
		out.Fallbacks = append(out.Fallbacks, transportConfig(fc))
	}
	return out
}

func (a *app) localeResolver() (locale.Resolver, error) {
	if len(a.cfg.Mail.Locales) == 0 {
		return locale.Static(a.cfg.Mail.DefaultLocale), nil
	}
	m, err := locale.NewMatcher(a.cfg.Mail.Locales)
	if err != nil {
		return nil, fmt.Errorf("configure locales: %w", err)
	}
	return m, nil
}

// registry discovers template-backed email types. A missing template
// directory leaves the templated endpoints disabled.
func (a *app) registry() (*emailer.Registry, error) {
	dir := a.cfg.Mail.TemplateDir
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		a.log.Warn().Str("dir", dir).Msg("template directory not found, email types disabled")
		return nil, nil
	}
	types, err := emailer.DiscoverTypes(os.DirFS(dir), nil)
	if err != nil {
		return nil, err
	}
	a.log.Info().Int("types", len(types)).Str("dir", dir).Msg("email types loaded")
	return emailer.NewRegistry(types...), nil
}

func (a *app) runner(c *components) *queue.Runner {
	qc := a.cfg.Queue
	policy := queue.NewRetryPolicy(qc.MaxAllowedAttempts, qc.RetryBackoff)
	policy.Jitter = retryJitter
	opts := []queue.Option{queue.WithRetryPolicy(policy)}
	if qc.ClaimRows {
		opts = append(opts, queue.WithClaimer(c.db))
	}
	if qc.Lease.Addr != "" {
		opts = append(opts, queue.WithLease(queue.NewLease(a.redisClient(), qc.Lease.Key, qc.Timeout+leaseSlack)))
	}
	return queue.NewRunner(queue.Config{
		Timeout:             qc.Timeout,
		EmailDelay:          qc.EmailDelay,
		CheckIterationDelay: qc.CheckIterationDelay,
		MaxAllowedAttempts:  qc.MaxAllowedAttempts,
		RetryBackoff:        qc.RetryBackoff,
	}, c.queries, c.builder, c.transport, c.audit, c.reporter, a.log, opts...)
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		lc := a.cfg.Queue.Lease
		a.redis = redis.NewClient(&redis.Options{
			Addr:     lc.Addr,
			Password: lc.Password,
			DB:       lc.DB,
		})
		client := a.redis
		a.closers = append(a.closers, func() { _ = client.Close() })
	}
	return a.redis
}

func (a *app) collector(c *components) *gc.Collector {
	return gc.New(gc.Config{
		CommonLogTTL: a.cfg.GC.CommonLogTTL,
		EmailLogTTL:  a.cfg.GC.EmailLogTTL,
		BodyTTL:      a.cfg.GC.BodyTTL,
		BatchSize:    a.cfg.GC.BatchSize,
	}, c.queries, a.log, time.Now)
}
