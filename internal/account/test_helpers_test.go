package account

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit/audittest"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/logging"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/invitation"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/notify"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/security"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/session"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
	_ "github.com/benjaminthomas/neer-thuli-main-sub000/migrations"
)

var t0 = time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

const (
	testSecret  = "account-test-secret-at-least-32-chars"
	validMFA    = "424242"
	goodPass    = "correct horse battery"
	minPassword = 10
)

// mfaVerifier is the fast Argon2 verifier with a fixed valid MFA code.
type mfaVerifier struct {
	auth.Argon2Verifier
}

func (mfaVerifier) VerifyMFACode(_ context.Context, secretRef, code string) (bool, error) {
	return secretRef != "" && code == validMFA, nil
}

type queue struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (q *queue) Enqueue(msg notify.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return true
}

func (q *queue) ofKind(k notify.Kind) []notify.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []notify.Message
	for _, m := range q.msgs {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	svc        *Service
	dir        *tenancy.Directory
	guard      *security.Guard
	identities *auth.SQLiteIdentityStore
	auditLog   *audit.Logger
	verifier   mfaVerifier
	queue      *queue
	rec        *audittest.Recorder
	clk        *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "account.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	rec := &audittest.Recorder{}
	clk := clock.NewManual(t0)
	log := logging.Discard()
	verifier := mfaVerifier{auth.Argon2Verifier{Time: 1, Memory: 8 * 1024, Threads: 1}}
	engine := authz.NewEngine(rec)
	identities := auth.NewSQLiteIdentityStore(db.DB)
	guard := security.NewGuard(db.DB, verifier, engine, rec, clk, log)
	dir := tenancy.NewDirectory(db.DB, engine, rec, clk, log)
	sessions := session.NewManager(db.DB, engine, rec, clk, log)
	q := &queue{}
	invitations := invitation.NewService(db.DB, engine, identities, verifier, guard, q, rec, clk, log,
		invitation.WithMinPasswordLength(minPassword))
	auditLog := audit.NewLogger(audit.NewSQLiteRepository(db.DB), log, audit.WithClock(clk))

	svc := NewService(Config{JWTSecret: testSecret, MinPasswordLength: minPassword}, Deps{
		Directory:   dir,
		Invitations: invitations,
		Sessions:    sessions,
		Guard:       guard,
		Engine:      engine,
		Identities:  identities,
		Verifier:    verifier,
		Audit:       auditLog,
		Recorder:    rec,
		Notifier:    q,
		Clock:       clk,
		Logger:      log,
	})
	return &fixture{
		svc:        svc,
		dir:        dir,
		guard:      guard,
		identities: identities,
		auditLog:   auditLog,
		verifier:   verifier,
		queue:      q,
		rec:        rec,
		clk:        clk,
	}
}

func (f *fixture) org(t *testing.T, slug string) *tenancy.Organization {
	t.Helper()
	org, err := f.dir.CreateOrganization(context.Background(), tenancy.NewOrganization{
		Name: "Org " + slug, Slug: slug, MaxUsers: 20,
	})
	if err != nil {
		t.Fatalf("CreateOrganization(%s) error = %v", slug, err)
	}
	return org
}

// user creates an identity with goodPass and a membership in orgID.
func (f *fixture) user(t *testing.T, email, orgID string, role authz.Role) authz.Actor {
	t.Helper()
	ctx := context.Background()
	hash, err := f.verifier.HashPassword(goodPass)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	identity := &auth.Identity{Email: email, DisplayName: email, PasswordHash: hash}
	if err := f.identities.Create(ctx, identity); err != nil {
		t.Fatalf("Create(%s) error = %v", email, err)
	}
	m := &tenancy.Membership{ID: identity.ID, OrganizationID: orgID, Role: role}
	if err := f.dir.AddMembership(ctx, m); err != nil {
		t.Fatalf("AddMembership(%s) error = %v", email, err)
	}
	if err := f.guard.AppendPasswordHistory(ctx, identity.ID, hash); err != nil {
		t.Fatalf("AppendPasswordHistory() error = %v", err)
	}
	return m.Actor()
}

func (f *fixture) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginRequest{Email: email, Password: password, IPAddress: "10.0.0.9"})
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return res
}
