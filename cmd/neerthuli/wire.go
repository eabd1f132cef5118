package main

import (
	"context"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/account"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/config"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/influxdb"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/logging"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/mqtt"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/invitation"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/metrics"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/session"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/sweeper"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
)

// core holds the wired identity components.
type core struct {
	guard       *security.Guard
	sessions    *session.Manager
	invitations *invitation.Service
	account     *account.Service
}

// buildNotifier selects the delivery transports. Messages are logged when no
// transport is enabled so invitation links remain recoverable in development.
func buildNotifier(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) notify.Notifier {
	var transports notify.Multi
	if cfg.Email.Enabled {
		transports = append(transports, notify.NewEmailTransport(cfg.Email.APIKey, cfg.Email.From))
	}
	if mqttClient != nil {
		transports = append(transports, notify.NewMQTTTransport(mqttClient, mqttClient.Topics()))
	}
	if len(transports) == 0 {
		log.Warn("no notification transport enabled, logging messages instead")
		return notify.LogTransport{Logger: log.Component("notify")}
	}
	return transports
}

// buildCore wires tenancy, authorization, the security guard, sessions,
// invitations and the account service over one database.
func buildCore(cfg *config.Config, db *database.DB, auditLogger *audit.Logger, rec audit.Recorder,
	dispatcher *notify.Dispatcher, collector *metrics.Collector, log *logging.Logger,
) *core {
	clk := clock.System{}
	sec := cfg.Security

	engine := authz.NewEngine(rec)
	identities := auth.NewSQLiteIdentityStore(db.DB)
	verifier := auth.NewArgon2Verifier()

	guard := security.NewGuard(db.DB, verifier, engine, rec, clk, log.Logger,
		security.WithPolicy(security.Policy{
			Window:           sec.Lockout.Window,
			Threshold:        sec.Lockout.Threshold,
			ResetOnSuccess:   sec.Lockout.ResetOnSuccess,
			AttemptRetention: sec.Lockout.AttemptRetention,
			HistoryDepth:     sec.Passwords.HistoryDepth,
			HistoryRetention: sec.Passwords.HistoryRetention,
		}),
		security.WithObserver(collector),
	)

	sessions := session.NewManager(db.DB, engine, rec, clk, log.Logger,
		session.WithPolicy(session.Policy{
			IdleTimeout:         sec.Sessions.IdleTimeout,
			MaxLifetime:         sec.Sessions.MaxLifetime,
			InactivityThreshold: sec.Sessions.InactivityThreshold,
		}),
		session.WithObserver(collector),
	)

	invitations := invitation.NewService(db.DB, engine, identities, verifier, guard, dispatcher, rec, clk, log.Logger,
		invitation.WithTTL(sec.Invitations.TTL),
		invitation.WithMinPasswordLength(sec.Passwords.MinLength),
		invitation.WithAcceptURL(cfg.Email.InviteBaseURL),
		invitation.WithObserver(collector),
	)

	directory := tenancy.NewDirectory(db.DB, engine, rec, clk, log.Logger)

	svc := account.NewService(account.Config{
		JWTSecret:         sec.JWT.Secret,
		AccessTokenTTL:    time.Duration(sec.JWT.AccessTokenTTL) * time.Minute,
		MinPasswordLength: sec.Passwords.MinLength,
		RevealLockout:     sec.Lockout.RevealLocked,
	}, account.Deps{
		Directory:   directory,
		Invitations: invitations,
		Sessions:    sessions,
		Guard:       guard,
		Engine:      engine,
		Identities:  identities,
		Verifier:    verifier,
		Audit:       auditLogger,
		Recorder:    rec,
		Notifier:    dispatcher,
		Clock:       clk,
		Logger:      log.Logger,
	})

	return &core{
		guard:       guard,
		sessions:    sessions,
		invitations: invitations,
		account:     svc,
	}
}

// bootstrap creates the first organization and administrator on an empty store.
func bootstrap(ctx context.Context, cfg *config.Config, c *core) error {
	_, err := c.account.Bootstrap(ctx, account.BootstrapConfig{
		OrganizationName: cfg.Bootstrap.OrganizationName,
		OrganizationSlug: cfg.Bootstrap.OrganizationSlug,
		AdminEmail:       cfg.Bootstrap.AdminEmail,
		MaxUsers:         cfg.Bootstrap.MaxUsers,
	})
	return err
}

// buildSweeper registers the retention jobs. influxClient may be nil.
func buildSweeper(cfg *config.Config, c *core, auditLogger *audit.Logger, collector *metrics.Collector,
	influxClient *influxdb.Client, log *logging.Logger,
) *sweeper.Sweeper {
	retention := cfg.Security.Audit.Retention
	jobs := []sweeper.Job{
		{Name: sweeper.JobInvitationExpiry, Run: c.invitations.ExpireSweep},
		{Name: sweeper.JobSessions, Run: c.sessions.Sweep},
		{Name: sweeper.JobAuditRetention, Run: func(ctx context.Context) (int64, error) {
			return auditLogger.Sweep(ctx, retention)
		}},
		{Name: sweeper.JobLoginAttempts, Run: c.guard.PruneAttempts},
		{Name: sweeper.JobPasswordHistory, Run: c.guard.PrunePasswordHistory},
	}

	opts := []sweeper.Option{sweeper.WithObserver(collector)}
	if influxClient != nil {
		opts = append(opts, sweeper.WithSink(influxClient))
	}
	return sweeper.New(cfg.Sweeps.Interval, log.Component("sweeper"), jobs, opts...)
}
