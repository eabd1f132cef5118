package security

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/audit/audittest"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/auth"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/authz"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/clock"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/logging"
	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/tenancy"
	_ "github.com/benjaminthomas/neer-thuli-main-sub000/migrations"
)

var t0 = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

var fastVerifier = auth.Argon2Verifier{Time: 1, Memory: 8 * 1024, Threads: 1}

type fixture struct {
	db    *database.DB
	guard *Guard
	dir   *tenancy.Directory
	rec   *audittest.Recorder
	clk   *clock.Manual
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "security.db"),
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
	engine := authz.NewEngine(rec)
	return &fixture{
		db:    db,
		guard: NewGuard(db.DB, fastVerifier, engine, rec, clk, logging.Discard(), opts...),
		dir:   tenancy.NewDirectory(db.DB, engine, rec, clk, logging.Discard()),
		rec:   rec,
		clk:   clk,
	}
}

func (f *fixture) fail(t *testing.T, email string, n int) Status {
	t.Helper()
	var st Status
	for i := 0; i < n; i++ {
		var err error
		st, err = f.guard.RecordAttempt(context.Background(), Attempt{Email: email, IPAddress: "10.0.0.1"})
		if err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
		f.clk.Advance(time.Minute)
	}
	return st
}

func TestLockoutBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := f.fail(t, "carol@x.com", 4)
	if st.Locked || st.FailedCount != 4 || st.Remaining != 1 {
		t.Fatalf("after 4 failures: %+v, want unlocked with 1 remaining", st)
	}
	if f.rec.Count(audit.EventAccountLocked) != 0 {
		t.Error("no account_locked before the threshold")
	}

	st = f.fail(t, "carol@x.com", 1)
	if !st.Locked || st.Remaining != 0 {
		t.Fatalf("after 5 failures: %+v, want locked", st)
	}

	checked, err := f.guard.CheckLockout(ctx, "CAROL@x.com")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if !checked.Locked || checked.Remaining != 0 || checked.UnlockAt == nil {
		t.Errorf("CheckLockout() = %+v", checked)
	}

	f.fail(t, "carol@x.com", 2)
	if got := f.rec.Count(audit.EventAccountLocked); got != 1 {
		t.Errorf("account_locked events = %d, want exactly 1", got)
	}
}

func TestLockoutExpiresWithWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := f.fail(t, "dave@x.com", 5) // failures at t0 .. t0+4m
	if !st.Locked {
		t.Fatal("expected lock")
	}
	// Oldest failure at t0 ages out at t0+1h, dropping the count to 4.
	if want := t0.Add(time.Hour); !st.UnlockAt.Equal(want) {
		t.Errorf("UnlockAt = %v, want %v", st.UnlockAt, want)
	}

	f.clk.Set(t0.Add(time.Hour - time.Second))
	if st, _ := f.guard.CheckLockout(ctx, "dave@x.com"); !st.Locked { //nolint:errcheck // asserted via value
		t.Error("still locked one second before UnlockAt")
	}

	f.clk.Set(t0.Add(time.Hour))
	st, err := f.guard.CheckLockout(ctx, "dave@x.com")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if st.Locked || st.FailedCount != 4 {
		t.Errorf("at UnlockAt: %+v, want unlocked with 4 failures", st)
	}
}

func TestLockout_SuccessDoesNotResetByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fail(t, "erin@x.com", 3)
	if _, err := f.guard.RecordAttempt(ctx, Attempt{Email: "erin@x.com", Success: true}); err != nil {
		t.Fatalf("RecordAttempt(success) error = %v", err)
	}
	st := f.fail(t, "erin@x.com", 2)
	if !st.Locked {
		t.Errorf("status = %+v, want locked: success must not reset the window", st)
	}
}

func TestLockout_ResetOnSuccess(t *testing.T) {
	p := DefaultPolicy()
	p.ResetOnSuccess = true
	f := newFixture(t, WithPolicy(p))
	ctx := context.Background()

	f.fail(t, "erin@x.com", 3)
	if _, err := f.guard.RecordAttempt(ctx, Attempt{Email: "erin@x.com", Success: true}); err != nil {
		t.Fatalf("RecordAttempt(success) error = %v", err)
	}
	f.clk.Advance(time.Second)
	st := f.fail(t, "erin@x.com", 2)
	if st.Locked || st.FailedCount != 2 {
		t.Errorf("status = %+v, want 2 failures counted after the success", st)
	}
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fail(t, "frank@x.com", 5)

	admin := authz.Actor{UserID: "idn-admin", OrgID: "org-a", Role: authz.RoleAdmin}
	if err := f.guard.Unlock(ctx, admin, "frank@x.com"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	st, err := f.guard.CheckLockout(ctx, "frank@x.com")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if st.Locked || st.FailedCount != 0 {
		t.Errorf("after Unlock: %+v", st)
	}
	if f.rec.Count(audit.EventAccountUnlocked) != 1 {
		t.Error("expected one account_unlocked event")
	}
}

func TestPruneAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fail(t, "old@x.com", 3)
	f.clk.Advance(31 * 24 * time.Hour)
	f.fail(t, "new@x.com", 1)

	n, err := f.guard.PruneAttempts(ctx)
	if err != nil {
		t.Fatalf("PruneAttempts() error = %v", err)
	}
	if n != 3 {
		t.Errorf("PruneAttempts() = %d, want 3", n)
	}
}

// TestResilience_ConcurrentFailures_SingleLockEvent verifies that racing
// failures cross the threshold exactly once.
func TestResilience_ConcurrentFailures_SingleLockEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 12
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.guard.RecordAttempt(ctx, Attempt{Email: "race@x.com"}); err != nil {
				t.Errorf("RecordAttempt() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.rec.Count(audit.EventAccountLocked); got != 1 {
		t.Errorf("account_locked events = %d, want 1", got)
	}
	st, err := f.guard.CheckLockout(ctx, "race@x.com")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if st.FailedCount != attempts {
		t.Errorf("FailedCount = %d, want %d", st.FailedCount, attempts)
	}
}

func (f *fixture) seedMember(t *testing.T, id string, role authz.Role) authz.Actor {
	t.Helper()
	ctx := context.Background()
	org, err := f.dir.GetOrganizationBySlug(ctx, "acme")
	if errors.Is(err, apperr.ErrNotFound) {
		org, err = f.dir.CreateOrganization(ctx, tenancy.NewOrganization{Name: "Acme", Slug: "acme", MaxUsers: 20})
	}
	if err != nil {
		t.Fatalf("organization: %v", err)
	}
	m := &tenancy.Membership{ID: id, OrganizationID: org.ID, Role: role}
	if err := f.dir.AddMembership(ctx, m); err != nil {
		t.Fatalf("AddMembership() error = %v", err)
	}
	return m.Actor()
}
