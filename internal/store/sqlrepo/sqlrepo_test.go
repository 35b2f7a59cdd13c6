package sqlrepo_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlite"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlrepo"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

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
	return sqlrepo.Build(eng, &clock.Mock{T: testNow})
}

func ptr[T any](v T) *T { return &v }

func mustUser(t *testing.T, r *store.Repositories, discordID string) *store.User {
	t.Helper()
	u, err := r.Users.GetOrCreate(context.Background(), discordID, "user-"+discordID)
	if err != nil {
		t.Fatalf("GetOrCreate(%s): %v", discordID, err)
	}
	return u
}

func mustTeam(t *testing.T, r *store.Repositories, name string, owner *store.User) *store.Team {
	t.Helper()
	team := &store.Team{Name: name, Tag: name[:1], OwnerID: owner.ID, CreatedBy: owner.ID, DiscordServer: "guild-1"}
	if err := r.Teams.Save(context.Background(), team); err != nil {
		t.Fatalf("saving team %s: %v", name, err)
	}
	return team
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)

	u := &store.User{DiscordID: "100", DisplayName: ptr("Alice")}
	if err := r.Users.Save(ctx, u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected generated id")
	}

	got, err := r.Users.GetByID(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID = %v, %v", got, err)
	}
	if got.DiscordID != "100" || got.Name("") != "Alice" || !got.CreatedDate.Equal(testNow) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	again, err := r.Users.GetOrCreate(ctx, "100", "Someone Else")
	if err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("GetOrCreate created a duplicate: %d != %d", again.ID, u.ID)
	}

	// Empty display names are stored as NULL and read back as nil.
	bob, err := r.Users.GetOrCreate(ctx, "200", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	bob.DisplayName = ptr("")
	if err := r.Users.Save(ctx, bob); err != nil {
		t.Fatalf("Save: %v", err)
	}
	gotBob, _ := r.Users.GetByDiscordID(ctx, "200")
	if gotBob == nil || gotBob.DisplayName != nil {
		t.Errorf("expected nil display name, got %+v", gotBob)
	}

	found, err := r.Users.Search(ctx, "lic")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 1 || found[0].ID != u.ID {
		t.Errorf("Search = %+v", found)
	}

	for _, term := range []string{"_", "%", `\`} {
		if found, err := r.Users.Search(ctx, term); err != nil || len(found) != 0 {
			t.Errorf("Search(%q) = %d users, %v; want no wildcard matches", term, len(found), err)
		}
	}

	all, err := r.Users.GetAll(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetAll = %d users, %v", len(all), err)
	}

	missing, err := r.Users.GetByDiscordID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetByDiscordID(missing) = %v, %v", missing, err)
	}

	n, err := r.Users.Delete(ctx, bob.ID)
	if err != nil || n != 1 {
		t.Errorf("Delete = %d, %v", n, err)
	}

	for _, name := range []string{"user-1", "user_2", "100%"} {
		if _, err := r.Users.GetOrCreate(ctx, "id-"+name, name); err != nil {
			t.Fatal(err)
		}
	}
	for term, want := range map[string]int{"_": 1, "%": 1, "user": 2, "r_2": 1} {
		found, err := r.Users.Search(ctx, term)
		if err != nil || len(found) != want {
			t.Errorf("Search(%q) = %d users, %v; want %d", term, len(found), err, want)
		}
	}
}

func TestTeamsAndMemberships(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	owner := mustUser(t, r, "1")
	member := mustUser(t, r, "2")

	alpha := mustTeam(t, r, "Alpha", owner)
	mustTeam(t, r, "Bravo", member)

	got, err := r.Teams.GetByName(ctx, "guild-1", "alpha")
	if err != nil || got == nil || got.ID != alpha.ID {
		t.Fatalf("GetByName = %+v, %v", got, err)
	}
	if !got.CreatedAt.Equal(testNow) || got.OwnerID != owner.ID {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if other, _ := r.Teams.GetByName(ctx, "guild-2", "Alpha"); other != nil {
		t.Error("GetByName matched a team on another server")
	}

	byServer, _ := r.Teams.GetByServer(ctx, "guild-1")
	if len(byServer) != 2 || byServer[0].Name != "Alpha" {
		t.Errorf("GetByServer = %+v", byServer)
	}
	byOwner, _ := r.Teams.GetByOwner(ctx, owner.ID)
	if len(byOwner) != 1 {
		t.Errorf("GetByOwner = %+v", byOwner)
	}

	alpha.Tag = "ALP"
	alpha.OwnerID = member.ID
	if err := r.Teams.Save(ctx, alpha); err != nil {
		t.Fatalf("updating team: %v", err)
	}
	got, _ = r.Teams.GetByID(ctx, alpha.ID)
	if got.Tag != "ALP" || got.OwnerID != member.ID {
		t.Errorf("update not applied: %+v", got)
	}

	m := &store.TeamMembership{UserID: member.ID, TeamID: alpha.ID}
	if err := r.Memberships.Save(ctx, m); err != nil {
		t.Fatalf("saving membership: %v", err)
	}
	// Saving the same key again updates in place.
	updated := testNow.Add(time.Hour)
	m.Captain = true
	m.UpdatedDate = &updated
	if err := r.Memberships.Save(ctx, m); err != nil {
		t.Fatalf("re-saving membership: %v", err)
	}
	ms, err := r.Memberships.GetByTeam(ctx, alpha.ID)
	if err != nil {
		t.Fatalf("GetByTeam: %v", err)
	}
	if len(ms) != 1 {
		t.Fatalf("got %d memberships, want exactly 1", len(ms))
	}
	if !ms[0].Captain || ms[0].UpdatedDate == nil || !ms[0].UpdatedDate.Equal(updated) {
		t.Errorf("membership not updated: %+v", ms[0])
	}

	byUser, _ := r.Memberships.GetByUser(ctx, member.ID)
	if len(byUser) != 1 {
		t.Errorf("GetByUser = %+v", byUser)
	}
	n, err := r.Memberships.Delete(ctx, member.ID, alpha.ID)
	if err != nil || n != 1 {
		t.Errorf("Delete = %d, %v", n, err)
	}
	if gone, _ := r.Memberships.Get(ctx, member.ID, alpha.ID); gone != nil {
		t.Error("membership still present after delete")
	}
}

func TestTeamPermissions(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	owner := mustUser(t, r, "1")
	team := mustTeam(t, r, "Alpha", owner)

	up := &store.TeamPermissionsUser{
		TeamID:          team.ID,
		UserID:          owner.ID,
		TeamPermissions: store.TeamPermissions{EditDetails: true},
		CreatedBy:       owner.ID,
	}
	if err := r.TeamUserPermissions.Save(ctx, up); err != nil {
		t.Fatalf("saving user permissions: %v", err)
	}
	up.IssueMatches = true
	up.UpdatedBy = ptr(owner.ID)
	if err := r.TeamUserPermissions.Save(ctx, up); err != nil {
		t.Fatalf("re-saving user permissions: %v", err)
	}
	gotUser, err := r.TeamUserPermissions.Get(ctx, team.ID, owner.ID)
	if err != nil || gotUser == nil {
		t.Fatalf("Get = %v, %v", gotUser, err)
	}
	if !gotUser.EditDetails || !gotUser.IssueMatches || gotUser.EditMembers || gotUser.UpdatedBy == nil {
		t.Errorf("unexpected user permissions: %+v", gotUser)
	}

	rp := &store.TeamPermissionsRole{
		TeamID:          team.ID,
		RoleID:          "role-9",
		TeamPermissions: store.TeamPermissions{JoinLeagues: true},
		CreatedBy:       owner.ID,
	}
	if err := r.TeamRolePermissions.Save(ctx, rp); err != nil {
		t.Fatalf("saving role permissions: %v", err)
	}
	roles, err := r.TeamRolePermissions.GetByTeam(ctx, team.ID)
	if err != nil || len(roles) != 1 || !roles[0].JoinLeagues {
		t.Fatalf("GetByTeam = %+v, %v", roles, err)
	}
	if n, _ := r.TeamRolePermissions.Delete(ctx, team.ID, "role-9"); n != 1 {
		t.Errorf("Delete affected %d rows, want 1", n)
	}
}

func TestAdmins(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)

	tests := []struct {
		name  string
		admin store.AdminConfig
	}{
		{"unknown scope", store.AdminConfig{Scope: "guild", DiscordUserID: ptr("1")}},
		{"user scope without user", store.AdminConfig{Scope: store.ScopeUser}},
		{"user scope with role", store.AdminConfig{Scope: store.ScopeUser, DiscordUserID: ptr("1"), DiscordRoleID: ptr("r")}},
		{"role scope without server", store.AdminConfig{Scope: store.ScopeRole, DiscordRoleID: ptr("r")}},
		{"role scope with user", store.AdminConfig{Scope: store.ScopeRole, DiscordServerID: ptr("g"), DiscordRoleID: ptr("r"), DiscordUserID: ptr("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.admin
			if err := r.Admins.Save(ctx, &a); !errors.Is(err, store.ErrValidation) {
				t.Fatalf("Save error = %v, want validation error", err)
			}
			if a.ID != 0 {
				t.Error("invalid admin config was assigned an id")
			}
		})
	}
	if all, _ := r.Admins.GetAll(ctx); len(all) != 0 {
		t.Fatalf("invalid configs were written: %+v", all)
	}

	userAdmin := &store.AdminConfig{Scope: store.ScopeUser, DiscordUserID: ptr("1"), DiscordServerID: ptr(""), Admin: true, CreatedBy: 1}
	roleAdmin := &store.AdminConfig{Scope: store.ScopeRole, DiscordServerID: ptr("g"), DiscordRoleID: ptr("r"), Admin: true, CreatedBy: 1}
	revoked := &store.AdminConfig{Scope: store.ScopeUser, DiscordUserID: ptr("2"), Admin: false, CreatedBy: 1}
	for _, a := range []*store.AdminConfig{userAdmin, roleAdmin, revoked} {
		if err := r.Admins.Save(ctx, a); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := r.Admins.GetByUserID(ctx, "1")
	if err != nil || got == nil || got.ID != userAdmin.ID {
		t.Fatalf("GetByUserID = %+v, %v", got, err)
	}
	if got.DiscordServerID != nil || got.DiscordRoleID != nil {
		t.Errorf("empty identity fields should read back as nil: %+v", got)
	}
	role, err := r.Admins.GetByServerAndRole(ctx, "g", "r")
	if err != nil || role == nil || role.ID != roleAdmin.ID {
		t.Fatalf("GetByServerAndRole = %+v, %v", role, err)
	}
	if other, _ := r.Admins.GetByServerAndRole(ctx, "other", "r"); other != nil {
		t.Error("role grant leaked across servers")
	}

	admins, err := r.Admins.GetAllAdmins(ctx)
	if err != nil || len(admins) != 2 {
		t.Errorf("GetAllAdmins = %d, %v; want 2", len(admins), err)
	}
	all, _ := r.Admins.GetAll(ctx)
	if len(all) != 3 {
		t.Errorf("GetAll = %d, want 3", len(all))
	}
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)

	halo := &store.Game{Name: "Halo Infinite", Series: ptr("Halo")}
	if err := r.Games.Save(ctx, halo); err != nil {
		t.Fatalf("saving game: %v", err)
	}
	other := &store.Game{Name: "Another Game", Series: ptr("")}
	if err := r.Games.Save(ctx, other); err != nil {
		t.Fatalf("saving game: %v", err)
	}

	got, err := r.Games.GetByName(ctx, "halo infinite")
	if err != nil || got == nil || *got.Series != "Halo" {
		t.Fatalf("GetByName = %+v, %v", got, err)
	}
	games, _ := r.Games.GetAll(ctx)
	if len(games) != 2 || games[0].Name != "Another Game" || games[0].Series != nil {
		t.Errorf("GetAll = %+v", games)
	}

	lockout := &store.Map{Name: "Lockout", Mode: "Slayer", GameID: halo.ID, ExperienceCode: ptr("ABC")}
	if err := r.Maps.Save(ctx, lockout); err != nil {
		t.Fatalf("saving map: %v", err)
	}
	byGame, _ := r.Maps.GetByGame(ctx, halo.ID)
	if len(byGame) != 1 || *byGame[0].ExperienceCode != "ABC" {
		t.Errorf("GetByGame = %+v", byGame)
	}

	format := &store.MatchFormat{MaxPlayers: 4, MatchCount: 3}
	if err := r.MatchFormats.Save(ctx, format); err != nil {
		t.Fatalf("saving format: %v", err)
	}

	pm := &store.PermittedMap{MatchFormatID: format.ID, MapID: lockout.ID}
	for i := 0; i < 2; i++ {
		if err := r.PermittedMaps.Save(ctx, pm); err != nil {
			t.Fatalf("saving permitted map: %v", err)
		}
	}
	permitted, _ := r.PermittedMaps.GetByFormat(ctx, format.ID)
	if len(permitted) != 1 {
		t.Errorf("got %d permitted maps, want 1", len(permitted))
	}

	// Maps reference games, so the foreign key is enforced.
	if err := r.Maps.Save(ctx, &store.Map{Name: "x", Mode: "y", GameID: 9999}); err == nil {
		t.Error("expected foreign key error")
	}

	halo.Name = "Halo 3"
	if err := r.Games.Save(ctx, halo); err != nil {
		t.Fatalf("updating game: %v", err)
	}
	if g, _ := r.Games.GetByID(ctx, halo.ID); g.Name != "Halo 3" {
		t.Errorf("game not renamed: %+v", g)
	}
	if n, _ := r.Games.Delete(ctx, other.ID); n != 1 {
		t.Errorf("Delete affected %d rows", n)
	}
}

func TestLeaguesAndMatches(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	owner := mustUser(t, r, "1")
	alpha := mustTeam(t, r, "Alpha", owner)
	bravo := mustTeam(t, r, "Bravo", owner)

	game := &store.Game{Name: "Halo"}
	_ = r.Games.Save(ctx, game)
	m := &store.Map{Name: "Lockout", Mode: "Slayer", GameID: game.ID}
	_ = r.Maps.Save(ctx, m)
	format := &store.MatchFormat{MaxPlayers: 4, MatchCount: 3}
	_ = r.MatchFormats.Save(ctx, format)

	league := &store.League{Name: "Pro", GameID: game.ID, MatchFormat: format.ID, DiscordServer: "guild-1", CreatedBy: owner.ID}
	if err := r.Leagues.Save(ctx, league); err != nil {
		t.Fatalf("saving league: %v", err)
	}
	leagues, _ := r.Leagues.GetByServer(ctx, "guild-1")
	if len(leagues) != 1 || !leagues[0].CreatedDate.Equal(testNow) {
		t.Errorf("GetByServer = %+v", leagues)
	}

	for _, team := range []*store.Team{alpha, bravo} {
		if err := r.LeagueMemberships.Save(ctx, &store.LeagueMembership{LeagueID: league.ID, TeamID: team.ID, JoinedBy: owner.ID}); err != nil {
			t.Fatalf("joining league: %v", err)
		}
	}
	members, _ := r.LeagueMemberships.GetByLeague(ctx, league.ID)
	if len(members) != 2 {
		t.Errorf("got %d league members, want 2", len(members))
	}

	match := &store.Match{
		LeagueID:        league.ID,
		ChallengingTeam: alpha.ID,
		DefendingTeam:   bravo.ID,
		IssuedBy:        owner.ID,
		MatchDate:       testNow.Add(48 * time.Hour),
	}
	if err := r.Matches.Save(ctx, match); err != nil {
		t.Fatalf("saving match: %v", err)
	}
	match.WinningTeam = ptr(alpha.ID)
	match.MatchAccepted = true
	if err := r.Matches.Save(ctx, match); err != nil {
		t.Fatalf("updating match: %v", err)
	}
	got, _ := r.Matches.GetByID(ctx, match.ID)
	if got == nil || got.WinningTeam == nil || *got.WinningTeam != alpha.ID || !got.MatchAccepted || got.MatchCancelled {
		t.Errorf("match round trip: %+v", got)
	}
	if !got.MatchDate.Equal(match.MatchDate) {
		t.Errorf("MatchDate = %v, want %v", got.MatchDate, match.MatchDate)
	}
	byTeam, _ := r.Matches.GetByTeam(ctx, bravo.ID)
	if len(byTeam) != 1 {
		t.Errorf("GetByTeam = %+v", byTeam)
	}

	result := &store.MatchResult{MatchID: match.ID, Round: 1, MapID: m.ID, ChallengingTeamScore: 50, DefendingTeamScore: 48, WinningTeam: alpha.ID}
	if err := r.MatchResults.Save(ctx, result); err != nil {
		t.Fatalf("saving result: %v", err)
	}
	result.DefendingTeamScore = 49
	if err := r.MatchResults.Save(ctx, result); err != nil {
		t.Fatalf("re-saving result: %v", err)
	}
	results, _ := r.MatchResults.GetByMatch(ctx, match.ID)
	if len(results) != 1 || results[0].DefendingTeamScore != 49 {
		t.Errorf("GetByMatch = %+v", results)
	}
}

func TestLogsAndEvents(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)

	for i, msg := range []string{"first", "second"} {
		line := 10 + i
		entry := &store.LogEntry{Level: "INFO", LoggerName: "test", Message: msg, Function: ptr("fn"), LineNumber: &line}
		if err := r.Logs.Write(ctx, entry); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	recent, err := r.Logs.Recent(ctx, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("Recent = %+v, %v", recent, err)
	}
	if recent[0].Message != "second" || recent[0].Module != nil || *recent[0].LineNumber != 11 {
		t.Errorf("unexpected entry: %+v", recent[0])
	}

	err = r.Events.Append(ctx,
		event.Event{AggregateID: "c-1", Type: event.ConfirmationRequested, Data: []byte(`{"kind":"invite"}`), Version: 1},
		event.Event{AggregateID: "c-1", Type: event.ConfirmationApproved, Version: 2},
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := r.Events.Load(ctx, "c-1")
	if err != nil || len(events) != 2 {
		t.Fatalf("Load = %+v, %v", events, err)
	}
	if string(events[0].Data) != `{"kind":"invite"}` || events[1].Version != 2 {
		t.Errorf("unexpected events: %+v", events)
	}
	byType, _ := r.Events.LoadByType(ctx, event.ConfirmationApproved)
	if len(byType) != 1 || byType[0].AggregateID != "c-1" {
		t.Errorf("LoadByType = %+v", byType)
	}
}

func TestTx_InterruptionRollsBack(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	interrupted := errors.New("interrupted")

	err := r.Tx(ctx, func(tx *store.Repositories) error {
		u, err := tx.Users.GetOrCreate(ctx, "owner", "Owner")
		if err != nil {
			return err
		}
		team := &store.Team{Name: "Alpha", Tag: "A", OwnerID: u.ID, CreatedBy: u.ID, DiscordServer: "guild-1"}
		if err := tx.Teams.Save(ctx, team); err != nil {
			return err
		}
		return interrupted
	})
	if !errors.Is(err, interrupted) {
		t.Fatalf("Tx error = %v, want %v", err, interrupted)
	}

	if u, _ := r.Users.GetByDiscordID(ctx, "owner"); u != nil {
		t.Error("user survived rollback")
	}
	if teams, _ := r.Teams.GetAll(ctx); len(teams) != 0 {
		t.Errorf("teams survived rollback: %+v", teams)
	}
}

func TestSchemaReset(t *testing.T) {
	ctx := context.Background()
	r := newRepos(t)
	mustUser(t, r, "1")
	if err := r.Logs.Write(ctx, &store.LogEntry{Level: "INFO", LoggerName: "test", Message: "kept"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := r.Schema.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	users, err := r.Users.GetAll(ctx)
	if err != nil || len(users) != 0 {
		t.Errorf("users after reset = %d, %v", len(users), err)
	}
	logs, _ := r.Logs.Recent(ctx, 10)
	if len(logs) != 1 {
		t.Errorf("logs after reset = %d, want 1", len(logs))
	}
}
