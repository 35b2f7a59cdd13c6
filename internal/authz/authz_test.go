package authz_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlite"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlrepo"
)

var testTP = noop.NewTracerProvider()

func newRepos(t *testing.T) *store.Repositories {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.Open(ctx, engine.SQLite, sqlite.DSN(filepath.Join(t.TempDir(), "scrim.db")), slog.Default())
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Disconnect() })
	if err := eng.InitialiseSchema(ctx); err != nil {
		t.Fatalf("initialising schema: %v", err)
	}
	return sqlrepo.Build(eng, clock.Real{})
}

// failingAdmins fails the test if any admin lookup happens.
type failingAdmins struct {
	store.AdminConfigRepository
	t *testing.T
}

func (f failingAdmins) GetByUserID(context.Context, string) (*store.AdminConfig, error) {
	f.t.Fatal("admin lookup after an earlier rule matched")
	return nil, nil
}

func (f failingAdmins) GetByServerAndRole(context.Context, string, string) (*store.AdminConfig, error) {
	f.t.Fatal("admin lookup after an earlier rule matched")
	return nil, nil
}

// failingOwner fails the test if consulted.
type failingOwner struct{ t *testing.T }

func (f failingOwner) IsBotOwner(context.Context, string) (bool, error) {
	f.t.Fatal("owner lookup after an earlier rule matched")
	return false, nil
}

type fixture struct {
	repos   *store.Repositories
	team    *store.Team
	owner   *store.User
	captain *store.User
	member  *store.User
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	r := newRepos(t)

	f := fixture{repos: r}
	var err error
	if f.owner, err = r.Users.GetOrCreate(ctx, "owner", "Owner"); err != nil {
		t.Fatal(err)
	}
	if f.captain, err = r.Users.GetOrCreate(ctx, "captain", "Captain"); err != nil {
		t.Fatal(err)
	}
	if f.member, err = r.Users.GetOrCreate(ctx, "member", "Member"); err != nil {
		t.Fatal(err)
	}
	f.team = &store.Team{Name: "Alpha", Tag: "A", OwnerID: f.owner.ID, CreatedBy: f.owner.ID, DiscordServer: "guild-1"}
	if err := r.Teams.Save(ctx, f.team); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*store.TeamMembership{
		{UserID: f.owner.ID, TeamID: f.team.ID, Captain: true},
		{UserID: f.captain.ID, TeamID: f.team.ID, Captain: true},
		{UserID: f.member.ID, TeamID: f.team.ID},
	} {
		if err := r.Memberships.Save(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func ptr(s string) *string { return &s }

func TestCanManageTeam(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if _, err := f.repos.Users.GetOrCreate(ctx, "admin", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repos.Users.GetOrCreate(ctx, "roleadmin", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repos.Users.GetOrCreate(ctx, "botowner", ""); err != nil {
		t.Fatal(err)
	}
	grants := []*store.AdminConfig{
		{Scope: store.ScopeUser, DiscordUserID: ptr("admin"), Admin: true},
		{Scope: store.ScopeUser, DiscordUserID: ptr("member"), Admin: false},
		{Scope: store.ScopeRole, DiscordServerID: ptr("guild-1"), DiscordRoleID: ptr("mods"), Admin: true},
	}
	for _, g := range grants {
		if err := f.repos.Admins.Save(ctx, g); err != nil {
			t.Fatal(err)
		}
	}

	resolver := authz.NewResolver(authz.StaticOwner("botowner"), testTP)

	tests := []struct {
		name string
		req  authz.Requester
		want authz.Decision
	}{
		{"owner", authz.Requester{DiscordID: "owner"}, authz.Decision{Allowed: true, Reason: authz.ReasonTeamOwner}},
		{"captain", authz.Requester{DiscordID: "captain"}, authz.Decision{Allowed: true, Reason: authz.ReasonCaptain}},
		{"bot owner", authz.Requester{DiscordID: "botowner"}, authz.Decision{Allowed: true, Reason: authz.ReasonBotOwner}},
		{"user admin", authz.Requester{DiscordID: "admin"}, authz.Decision{Allowed: true, Reason: authz.ReasonUserAdmin}},
		{"role admin", authz.Requester{DiscordID: "roleadmin", GuildID: "guild-1", RoleIDs: []string{"x", "mods"}}, authz.Decision{Allowed: true, Reason: authz.ReasonRoleAdmin}},
		{"role in other guild", authz.Requester{DiscordID: "roleadmin", GuildID: "guild-2", RoleIDs: []string{"mods"}}, authz.Decision{Reason: authz.ReasonNone}},
		{"revoked admin member", authz.Requester{DiscordID: "member"}, authz.Decision{Reason: authz.ReasonNone}},
		{"unregistered", authz.Requester{DiscordID: "stranger", GuildID: "guild-1", RoleIDs: []string{"mods"}}, authz.Decision{Reason: authz.ReasonNotRegistered}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.CanManageTeam(ctx, f.repos, tt.req, f.team)
			if err != nil {
				t.Fatalf("CanManageTeam: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCanManageTeam_ShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	repos := *f.repos
	repos.Admins = failingAdmins{t: t}
	resolver := authz.NewResolver(failingOwner{t: t}, testTP)

	for _, id := range []string{"owner", "captain"} {
		d, err := resolver.CanManageTeam(ctx, &repos, authz.Requester{DiscordID: id, GuildID: "guild-1", RoleIDs: []string{"mods"}}, f.team)
		if err != nil {
			t.Fatalf("CanManageTeam(%s): %v", id, err)
		}
		if !d.Allowed {
			t.Errorf("CanManageTeam(%s) denied: %+v", id, d)
		}
	}
}

func TestCanManageTeam_FailClosed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Even the bot owner needs a user record to manage a team.
	resolver := authz.NewResolver(authz.StaticOwner("ghost"), testTP)
	d, err := resolver.CanManageTeam(ctx, f.repos, authz.Requester{DiscordID: "ghost"}, f.team)
	if err != nil {
		t.Fatalf("CanManageTeam: %v", err)
	}
	if d.Allowed || d.Reason != authz.ReasonNotRegistered {
		t.Errorf("got %+v, want not_registered denial", d)
	}

	// Bot administration needs no user record.
	d, err = resolver.IsBotAdmin(ctx, f.repos, authz.Requester{DiscordID: "ghost"})
	if err != nil || !d.Allowed {
		t.Errorf("IsBotAdmin = %+v, %v", d, err)
	}
}

func TestCanManageTeam_OwnerCheckError(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	boom := errors.New("platform unavailable")
	resolver := authz.NewResolver(authz.OwnerFunc(func(context.Context, string) (bool, error) {
		return false, boom
	}), testTP)

	_, err := resolver.CanManageTeam(ctx, f.repos, authz.Requester{DiscordID: "member"}, f.team)
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestCanTransferOwnership(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	resolver := authz.NewResolver(authz.StaticOwner("botowner"), testTP)

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"owner", "owner", true},
		{"captain excluded", "captain", false},
		{"member", "member", false},
		{"bot owner without record", "botowner", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := resolver.CanTransferOwnership(ctx, f.repos, authz.Requester{DiscordID: tt.id}, f.team)
			if err != nil {
				t.Fatalf("CanTransferOwnership: %v", err)
			}
			if d.Allowed != tt.want {
				t.Errorf("got %+v, want allowed=%v", d, tt.want)
			}
		})
	}
}

func TestResolver_NoCaching(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	resolver := authz.NewResolver(authz.StaticOwner(""), testTP)
	req := authz.Requester{DiscordID: "member"}

	d, _ := resolver.CanManageTeam(ctx, f.repos, req, f.team)
	if d.Allowed {
		t.Fatal("member should not manage the team yet")
	}

	grant := &store.AdminConfig{Scope: store.ScopeUser, DiscordUserID: ptr("member"), Admin: true}
	if err := f.repos.Admins.Save(ctx, grant); err != nil {
		t.Fatal(err)
	}
	d, _ = resolver.CanManageTeam(ctx, f.repos, req, f.team)
	if !d.Allowed {
		t.Fatal("grant not visible to the next check")
	}

	if _, err := f.repos.Admins.Delete(ctx, grant.ID); err != nil {
		t.Fatal(err)
	}
	d, _ = resolver.CanManageTeam(ctx, f.repos, req, f.team)
	if d.Allowed {
		t.Error("revocation not visible to the next check")
	}
}
