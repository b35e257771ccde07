package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"fleetops.org/internal/apperr"
)

// plainVerifier keeps tests fast; bcrypt is covered separately.
type plainVerifier struct{}

func (plainVerifier) Hash(p string) (string, error) { return "plain:" + p, nil }
func (plainVerifier) Verify(p, c string) bool       { return c == "plain:"+p }

type fixture struct {
	store    *InMemory
	users    *Users
	sessions *Sessions
	auth     *Authenticator
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewInMemory(), now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	var err error
	if f.users, err = NewUsers(f.store, plainVerifier{}); err != nil {
		t.Fatalf("NewUsers: %v", err)
	}
	if f.sessions, err = NewSessions(f.store, WithSessionClock(clock)); err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	if f.auth, err = NewAuthenticator(f.store, f.sessions, WithClock(clock), WithVerifier(plainVerifier{})); err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return f
}

func (f *fixture) mustUser(t *testing.T, in NewUser) User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", in.Email, err)
	}
	return u
}

func TestLoginOpensSessionAndRecordsLastLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mustUser(t, NewUser{Email: "ops@fleet.test", Name: "Ops", Password: "s3cret-pass", Role: "OPS"})

	res, err := f.auth.Login(ctx, "  OPS@fleet.test ", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Redirect != "/dashboard" {
		t.Fatalf("expected shore redirect, got %s", res.Redirect)
	}
	if res.TTLDays != ShortSessionDays {
		t.Fatalf("expected %d day session, got %d", ShortSessionDays, res.TTLDays)
	}
	if want := f.now.Add(7 * 24 * time.Hour); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%v, want %v", res.ExpiresAt, want)
	}
	stored, _ := f.store.GetUser(ctx, u.ID)
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(f.now) {
		t.Fatalf("last login not recorded: %v", stored.LastLoginAt)
	}

	p, err := f.auth.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != u.ID || p.Role != RoleOps {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestLoginRememberMeUsesLongSession(t *testing.T) {
	f := newFixture(t)
	f.mustUser(t, NewUser{Email: "capt@fleet.test", Password: "s3cret-pass", Role: "CAPITAINE", VesselID: "v1"})

	res, err := f.auth.Login(context.Background(), "capt@fleet.test", "s3cret-pass", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TTLDays != LongSessionDays {
		t.Fatalf("expected %d day session, got %d", LongSessionDays, res.TTLDays)
	}
	if res.Redirect != "/purchase-requests" {
		t.Fatalf("expected vessel redirect, got %s", res.Redirect)
	}
	if res.Principal.VesselID != "v1" {
		t.Fatalf("principal vessel missing: %+v", res.Principal)
	}
}

func TestLoginFailuresLeaveNoState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mustUser(t, NewUser{Email: "fin@fleet.test", Password: "s3cret-pass", Role: "FINANCE"})
	disabled := f.mustUser(t, NewUser{Email: "old@fleet.test", Password: "s3cret-pass", Role: "OPS"})
	if _, err := f.users.SetStatus(ctx, disabled.ID, "disabled"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"missing password", "fin@fleet.test", "", ErrMissingCredentials},
		{"missing email", " ", "s3cret-pass", ErrMissingCredentials},
		{"unknown email", "nobody@fleet.test", "s3cret-pass", ErrUnknownEmail},
		{"disabled", "old@fleet.test", "s3cret-pass", ErrUserDisabled},
		{"bad password", "fin@fleet.test", "wrong-pass", ErrBadPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.auth.Login(ctx, tc.email, tc.password, false)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if n := f.store.SessionCount(); n != 0 {
		t.Fatalf("expected no sessions after failed logins, got %d", n)
	}
	stored, _ := f.store.GetUser(ctx, u.ID)
	if stored.LastLoginAt != nil {
		t.Fatalf("failed login must not touch last_login_at")
	}
	if !errors.Is(ErrBadPassword, apperr.ErrUnauthenticated) || !errors.Is(ErrMissingCredentials, apperr.ErrValidation) {
		t.Fatalf("login errors must carry their kinds")
	}
}

func TestSessionExpiresOnResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mustUser(t, NewUser{Email: "dpa@fleet.test", Password: "s3cret-pass", Role: "DPA"})

	sess, err := f.sessions.Create(ctx, u.ID, ShortSessionDays)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.now = f.now.Add(7*24*time.Hour - time.Second)
	if _, err := f.sessions.Resolve(ctx, sess.Token); err != nil {
		t.Fatalf("session should still be valid: %v", err)
	}
	f.now = f.now.Add(time.Second)
	if _, err := f.sessions.Resolve(ctx, sess.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired session, got %v", err)
	}
	purged, err := f.sessions.Purge(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("Purge=%d, %v", purged, err)
	}
}

func TestSessionCreateRejectsOtherTTL(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, NewUser{Email: "cso@fleet.test", Password: "s3cret-pass", Role: "CSO"})
	for _, ttl := range []int{0, 1, 14, 31} {
		if _, err := f.sessions.Create(context.Background(), u.ID, ttl); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("ttl %d: expected validation error, got %v", ttl, err)
		}
	}
}

func TestSessionTokensAreUniqueAndOpaque(t *testing.T) {
	f := newFixture(t)
	u := f.mustUser(t, NewUser{Email: "ops@fleet.test", Password: "s3cret-pass", Role: "OPS"})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := f.sessions.Create(context.Background(), u.ID, LongSessionDays)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if len(sess.Token) != 43 {
			t.Fatalf("unexpected token length %d", len(sess.Token))
		}
		if seen[sess.Token] {
			t.Fatalf("duplicate token %s", sess.Token)
		}
		seen[sess.Token] = true
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustUser(t, NewUser{Email: "ops@fleet.test", Password: "s3cret-pass", Role: "OPS"})
	res, err := f.auth.Login(ctx, "ops@fleet.test", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.auth.Logout(ctx, res.Token); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if err := f.auth.Logout(ctx, ""); err != nil {
		t.Fatalf("Logout without token: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, res.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestAuthenticateRejectsDisabledUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mustUser(t, NewUser{Email: "ops@fleet.test", Password: "s3cret-pass", Role: "OPS"})
	res, err := f.auth.Login(ctx, "ops@fleet.test", "s3cret-pass", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.users.SetStatus(ctx, u.ID, UserStatusDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, res.Token); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestDeleteUserRemovesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.mustUser(t, NewUser{Email: "ops@fleet.test", Password: "s3cret-pass", Role: "OPS"})
	other := f.mustUser(t, NewUser{Email: "fin@fleet.test", Password: "s3cret-pass", Role: "FINANCE"})
	if _, err := f.sessions.Create(ctx, u.ID, ShortSessionDays); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.sessions.Create(ctx, other.ID, ShortSessionDays); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.users.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := f.users.GetUser(ctx, u.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
	if n := f.store.SessionCount(); n != 1 {
		t.Fatalf("expected only the other user's session, got %d", n)
	}
	if err := f.users.DeleteUser(ctx, u.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustUser(t, NewUser{Email: "taken@fleet.test", Password: "s3cret-pass", Role: "OPS"})

	cases := []struct {
		name string
		in   NewUser
		want error
	}{
		{"bad email", NewUser{Email: "not-an-email", Password: "s3cret-pass", Role: "OPS"}, apperr.ErrValidation},
		{"unknown role", NewUser{Email: "a@fleet.test", Password: "s3cret-pass", Role: "PIRATE"}, apperr.ErrValidation},
		{"short password", NewUser{Email: "a@fleet.test", Password: "short", Role: "OPS"}, apperr.ErrValidation},
		{"crew without vessel", NewUser{Email: "a@fleet.test", Password: "s3cret-pass", Role: "SECOND"}, apperr.ErrValidation},
		{"shore with vessel", NewUser{Email: "a@fleet.test", Password: "s3cret-pass", Role: "ADMIN", VesselID: "v1"}, apperr.ErrValidation},
		{"duplicate email", NewUser{Email: "TAKEN@fleet.test", Password: "s3cret-pass", Role: "OPS"}, apperr.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.users.CreateUser(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegistryRoles(t *testing.T) {
	store := NewInMemory()
	reg, err := NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ctx := context.Background()
	if err := reg.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	if err := reg.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins twice: %v", err)
	}
	perms, _ := store.ListPermissions(ctx)
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(BuiltinPermissions), len(perms))
	}
	var approveID string
	for _, p := range perms {
		if p.Name == PermProcurementApprove {
			approveID = p.ID
		}
	}

	if _, err := reg.CreateRole(ctx, "  ", "", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	role, err := reg.CreateRole(ctx, "Approver", "signs off requests", []string{approveID, approveID, "does-not-exist"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if len(role.Permissions) != 1 || role.Permissions[0].Name != PermProcurementApprove {
		t.Fatalf("unexpected permissions %+v", role.Permissions)
	}
	if _, err := reg.CreateRole(ctx, "approver", "", nil); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for duplicate name, got %v", err)
	}

	ok, err := reg.Can(ctx, "Approver", "procurement", "approve")
	if err != nil || !ok {
		t.Fatalf("Can approve=%v, %v", ok, err)
	}
	ok, _ = reg.Can(ctx, "Approver", "procurement", "order")
	if ok {
		t.Fatalf("role must not hold procurement.order")
	}
	ok, err = reg.Can(ctx, "Ghost", "procurement", "approve")
	if err != nil || ok {
		t.Fatalf("undefined role must hold nothing: %v, %v", ok, err)
	}
	if defined, err := reg.Defines(ctx, "APPROVER"); err != nil || !defined {
		t.Fatalf("Defines approver=%v, %v", defined, err)
	}
	if defined, err := reg.Defines(ctx, "Ghost"); err != nil || defined {
		t.Fatalf("Defines ghost=%v, %v", defined, err)
	}

	role, err = reg.SetRolePermissions(ctx, role.ID, nil)
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if len(role.Permissions) != 0 {
		t.Fatalf("expected cleared permissions")
	}
	if err := reg.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := reg.DeleteRole(ctx, role.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	groups, err := reg.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if groups[0].Module != "documents" || len(groups[0].Permissions) != 2 {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	c := SessionCookie("tok", LongSessionDays, true)
	if c.Name != SessionCookieName || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || !c.Secure {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if c.MaxAge != 30*86400 {
		t.Fatalf("max-age=%d", c.MaxAge)
	}
	if cleared := ClearSessionCookie(false); cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("clear cookie must expire immediately: %+v", cleared)
	}
}

func TestBcryptRoundTrip(t *testing.T) {
	b := Bcrypt{Cost: 4}
	hash, err := b.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !b.Verify("correct horse", hash) || b.Verify("wrong horse", hash) {
		t.Fatalf("bcrypt verify mismatch")
	}
	if b.Verify("anything", "") {
		t.Fatalf("empty credential must never verify")
	}
}

func TestPrincipalVesselScope(t *testing.T) {
	crew := Principal{Role: RoleChiefMate, VesselID: "v1"}
	if !crew.CanSeeVessel("v1") || crew.CanSeeVessel("v2") {
		t.Fatalf("crew scope wrong")
	}
	if !(Principal{Role: RoleFinance}).CanSeeVessel("v2") {
		t.Fatalf("shore sees every vessel")
	}
	ctx := ContextWithPrincipal(context.Background(), crew)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got != crew {
		t.Fatalf("principal not round-tripped")
	}
}
