// Package teams implements team creation, membership and ownership
// workflows. Invitations and ownership transfers go through confirm so the
// mutation only happens once the addressed user approves.
package teams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/confirm"
	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

// MaxChoices caps autocomplete results.
const MaxChoices = 25

var (
	ErrNotRegistered     = errors.New("user is not registered")
	ErrTeamNotFound      = errors.New("team not found")
	ErrNotAuthorized     = errors.New("not authorized to manage this team")
	ErrAlreadyMember     = errors.New("user is already a member of this team")
	ErrNotMember         = errors.New("user is not a member of this team")
	ErrOwnerCannotLeave  = errors.New("the team owner cannot leave; transfer ownership first")
	ErrCannotRemoveOwner = errors.New("the team owner cannot be removed")
	ErrAlreadyOwner      = errors.New("user already owns this team")
	ErrSelfTransfer      = errors.New("cannot transfer ownership to yourself")
	ErrNothingToUpdate   = errors.New("nothing to update")
	ErrServerOnly        = errors.New("teams can only be managed inside a server")
)

// Member is a Discord user named in a command.
type Member struct {
	DiscordID   string
	DisplayName string
}

// MemberView is a membership joined with its user.
type MemberView struct {
	User    store.User
	Captain bool
	Owner   bool
}

func (v MemberView) rank() int {
	switch {
	case v.Owner:
		return 0
	case v.Captain:
		return 1
	}
	return 2
}

// InvitePayload is carried by team invitations.
type InvitePayload struct {
	TeamID    int64  `json:"team_id"`
	TeamName  string `json:"team_name"`
	UserID    int64  `json:"user_id"`
	InvitedBy string `json:"invited_by"`
}

// TransferPayload is carried by ownership transfer confirmations.
type TransferPayload struct {
	TeamID          int64  `json:"team_id"`
	TeamName        string `json:"team_name"`
	NewOwnerID      int64  `json:"new_owner_id"`
	NewOwnerDiscord string `json:"new_owner_discord"`
	PreviousOwnerID int64  `json:"previous_owner_id"`
}

// Manager handles team business logic.
type Manager struct {
	repos    *store.Repositories
	authz    *authz.Resolver
	confirms *confirm.Manager
	timeouts config.ConfirmConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager creates a team Manager and registers its confirmation actions.
func NewManager(repos *store.Repositories, resolver *authz.Resolver, confirms *confirm.Manager, timeouts config.ConfirmConfig, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	m := &Manager{
		repos:    repos,
		authz:    resolver,
		confirms: confirms,
		timeouts: timeouts,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-scrim-bot/internal/teams"),
	}
	confirms.Handle(confirm.KindInvite, m.acceptInvite)
	confirms.Handle(confirm.KindTransfer, m.applyTransfer)
	return m
}

// Create registers the requester if needed, creates the team owned by them
// and adds them as a captain, all in one transaction.
func (m *Manager) Create(ctx context.Context, req authz.Requester, name, tag string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Create",
		trace.WithAttributes(
			attribute.String("team.name", name),
			attribute.String("requester", req.DiscordID),
		),
	)
	defer span.End()

	if req.GuildID == "" {
		return nil, ErrServerOnly
	}
	name, tag = strings.TrimSpace(name), strings.TrimSpace(tag)
	if name == "" {
		return nil, &store.ValidationError{Field: "name", Reason: "required"}
	}
	if tag == "" {
		return nil, &store.ValidationError{Field: "tag", Reason: "required"}
	}

	var team *store.Team
	err := m.repos.InTx(ctx, func(r *store.Repositories) error {
		user, err := r.Users.GetOrCreate(ctx, req.DiscordID, req.DisplayName)
		if err != nil {
			return fmt.Errorf("ensuring user: %w", err)
		}
		team = &store.Team{
			Name:          name,
			Tag:           tag,
			OwnerID:       user.ID,
			CreatedBy:     user.ID,
			DiscordServer: req.GuildID,
		}
		if err := r.Teams.Save(ctx, team); err != nil {
			return fmt.Errorf("saving team: %w", err)
		}
		if err := r.Memberships.Save(ctx, &store.TeamMembership{UserID: user.ID, TeamID: team.ID, Captain: true}); err != nil {
			return fmt.Errorf("adding owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating team: %w", err)
	}

	m.audit(ctx, event.TeamCreated, event.TeamData{TeamID: team.ID, Name: team.Name, Tag: team.Tag, UserID: team.OwnerID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "team created",
		slog.Int64("team_id", team.ID),
		slog.String("name", team.Name),
		slog.String("server", team.DiscordServer),
	)
	return team, nil
}

// Get returns a team hosted on server.
func (m *Manager) Get(ctx context.Context, server string, teamID int64) (*store.Team, error) {
	return m.teamInServer(ctx, m.repos, server, teamID)
}

// ListByServer returns every team hosted on server.
func (m *Manager) ListByServer(ctx context.Context, server string) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListByServer",
		trace.WithAttributes(attribute.String("server", server)),
	)
	defer span.End()

	teams, err := m.repos.Teams.GetByServer(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return teams, nil
}

// Members returns the team's members: the owner, then captains, then the
// rest, each group ordered by name.
func (m *Manager) Members(ctx context.Context, server string, teamID int64) ([]MemberView, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Members",
		trace.WithAttributes(attribute.Int64("team.id", teamID)),
	)
	defer span.End()

	team, err := m.teamInServer(ctx, m.repos, server, teamID)
	if err != nil {
		return nil, err
	}
	memberships, err := m.repos.Memberships.GetByTeam(ctx, team.ID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}

	out := make([]MemberView, 0, len(memberships))
	for _, ms := range memberships {
		u, err := m.repos.Users.GetByID(ctx, ms.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading member %d: %w", ms.UserID, err)
		}
		if u == nil {
			continue
		}
		out = append(out, MemberView{User: *u, Captain: ms.Captain, Owner: u.ID == team.OwnerID})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].rank(), out[j].rank(); ri != rj {
			return ri < rj
		}
		return strings.ToLower(out[i].User.Name(out[i].User.DiscordID)) < strings.ToLower(out[j].User.Name(out[j].User.DiscordID))
	})
	return out, nil
}

// VisibleTeams returns the teams req may pick from in autocomplete: every
// team on the server for bot admins, otherwise the teams they belong to.
// filter matches name or tag as a case-insensitive substring.
func (m *Manager) VisibleTeams(ctx context.Context, req authz.Requester, filter string) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.VisibleTeams")
	defer span.End()

	if req.GuildID == "" {
		return []store.Team{}, nil
	}

	d, err := m.authz.IsBotAdmin(ctx, m.repos, req)
	if err != nil {
		return nil, err
	}

	var candidates []store.Team
	if d.Allowed {
		candidates, err = m.repos.Teams.GetByServer(ctx, req.GuildID)
		if err != nil {
			return nil, fmt.Errorf("listing teams: %w", err)
		}
	} else {
		candidates, err = m.ownTeams(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]store.Team, 0, len(candidates))
	for _, t := range candidates {
		if !matches(t, filter) {
			continue
		}
		out = append(out, t)
		if len(out) == MaxChoices {
			break
		}
	}
	return out, nil
}

func (m *Manager) ownTeams(ctx context.Context, req authz.Requester) ([]store.Team, error) {
	user, err := m.repos.Users.GetByDiscordID(ctx, req.DiscordID)
	if err != nil {
		return nil, fmt.Errorf("looking up requester: %w", err)
	}
	if user == nil {
		return []store.Team{}, nil
	}
	return m.memberTeams(ctx, user.ID, req.GuildID)
}

// Invite asks invitee to join the team. The membership is created only when
// the invitee approves before the invite timeout.
func (m *Manager) Invite(ctx context.Context, req authz.Requester, teamID int64, invitee Member) (*confirm.Confirmation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Invite",
		trace.WithAttributes(
			attribute.Int64("team.id", teamID),
			attribute.String("invitee", invitee.DiscordID),
		),
	)
	defer span.End()

	if err := m.requireRegistered(ctx, req); err != nil {
		return nil, err
	}
	team, err := m.manageable(ctx, req, teamID)
	if err != nil {
		return nil, err
	}

	user, err := m.repos.Users.GetOrCreate(ctx, invitee.DiscordID, invitee.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("ensuring invitee: %w", err)
	}
	existing, err := m.repos.Memberships.Get(ctx, user.ID, team.ID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	c, err := m.confirms.Request(ctx, confirm.KindInvite, req.DiscordID, invitee.DiscordID, InvitePayload{
		TeamID:    team.ID,
		TeamName:  team.Name,
		UserID:    user.ID,
		InvitedBy: req.DiscordID,
	}, m.timeouts.InviteTimeout)
	if err != nil {
		return nil, fmt.Errorf("requesting invite confirmation: %w", err)
	}
	return c, nil
}

func (m *Manager) acceptInvite(ctx context.Context, s confirm.Snapshot) error {
	var p InvitePayload
	if err := s.Decode(&p); err != nil {
		return err
	}

	err := m.repos.InTx(ctx, func(r *store.Repositories) error {
		team, err := r.Teams.GetByID(ctx, p.TeamID)
		if err != nil {
			return err
		}
		if team == nil {
			return confirm.Preconditionf("team %q no longer exists", p.TeamName)
		}
		user, err := r.Users.GetByID(ctx, p.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return confirm.Preconditionf("invited user is no longer registered")
		}
		existing, err := r.Memberships.Get(ctx, p.UserID, p.TeamID)
		if err != nil {
			return err
		}
		if existing != nil {
			return confirm.Preconditionf("already a member of %s", team.Name)
		}
		return r.Memberships.Save(ctx, &store.TeamMembership{UserID: p.UserID, TeamID: p.TeamID})
	})
	if err != nil {
		return err
	}

	m.audit(ctx, event.MemberJoined, event.TeamData{TeamID: p.TeamID, UserID: p.UserID, ActorID: p.InvitedBy})
	m.logger.InfoContext(ctx, "invitation accepted",
		slog.Int64("team_id", p.TeamID),
		slog.Int64("user_id", p.UserID),
	)
	return nil
}

// Edit changes the team's name and/or tag. Empty values are left unchanged.
func (m *Manager) Edit(ctx context.Context, req authz.Requester, teamID int64, name, tag string) (*store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Edit",
		trace.WithAttributes(attribute.Int64("team.id", teamID)),
	)
	defer span.End()

	name, tag = strings.TrimSpace(name), strings.TrimSpace(tag)
	if name == "" && tag == "" {
		return nil, ErrNothingToUpdate
	}
	team, err := m.manageable(ctx, req, teamID)
	if err != nil {
		return nil, err
	}
	if name != "" {
		team.Name = name
	}
	if tag != "" {
		team.Tag = tag
	}
	if err := m.repos.Teams.Save(ctx, team); err != nil {
		return nil, fmt.Errorf("saving team: %w", err)
	}

	m.audit(ctx, event.TeamEdited, event.TeamData{TeamID: team.ID, Name: name, Tag: tag, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "team edited",
		slog.Int64("team_id", team.ID),
		slog.String("name", team.Name),
		slog.String("tag", team.Tag),
	)
	return team, nil
}

// Leave removes the requester from the team. Owners must transfer first.
func (m *Manager) Leave(ctx context.Context, req authz.Requester, teamID int64) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Leave",
		trace.WithAttributes(attribute.Int64("team.id", teamID)),
	)
	defer span.End()

	user, err := m.repos.Users.GetByDiscordID(ctx, req.DiscordID)
	if err != nil {
		return fmt.Errorf("looking up requester: %w", err)
	}
	if user == nil {
		return ErrNotRegistered
	}
	team, err := m.teamInServer(ctx, m.repos, req.GuildID, teamID)
	if err != nil {
		return err
	}
	if team.OwnerID == user.ID {
		return ErrOwnerCannotLeave
	}
	n, err := m.repos.Memberships.Delete(ctx, user.ID, team.ID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	if n == 0 {
		return ErrNotMember
	}

	m.audit(ctx, event.MemberLeft, event.TeamData{TeamID: team.ID, UserID: user.ID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "member left team",
		slog.Int64("team_id", team.ID),
		slog.Int64("user_id", user.ID),
	)
	return nil
}

// Remove removes target from the team.
func (m *Manager) Remove(ctx context.Context, req authz.Requester, teamID int64, targetDiscordID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Remove",
		trace.WithAttributes(
			attribute.Int64("team.id", teamID),
			attribute.String("target", targetDiscordID),
		),
	)
	defer span.End()

	team, err := m.manageable(ctx, req, teamID)
	if err != nil {
		return err
	}
	target, err := m.repos.Users.GetByDiscordID(ctx, targetDiscordID)
	if err != nil {
		return fmt.Errorf("looking up member: %w", err)
	}
	if target == nil {
		return ErrNotMember
	}
	if target.ID == team.OwnerID {
		return ErrCannotRemoveOwner
	}
	n, err := m.repos.Memberships.Delete(ctx, target.ID, team.ID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	if n == 0 {
		return ErrNotMember
	}

	m.audit(ctx, event.MemberRemoved, event.TeamData{TeamID: team.ID, UserID: target.ID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "member removed from team",
		slog.Int64("team_id", team.ID),
		slog.Int64("user_id", target.ID),
	)
	return nil
}

// RequestTransfer validates an ownership transfer and asks the requester to
// confirm it. Every precondition is checked before any prompt is shown.
func (m *Manager) RequestTransfer(ctx context.Context, req authz.Requester, teamID int64, newOwnerDiscordID string) (*confirm.Confirmation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RequestTransfer",
		trace.WithAttributes(
			attribute.Int64("team.id", teamID),
			attribute.String("new_owner", newOwnerDiscordID),
		),
	)
	defer span.End()

	team, err := m.teamInServer(ctx, m.repos, req.GuildID, teamID)
	if err != nil {
		return nil, err
	}
	d, err := m.authz.CanTransferOwnership(ctx, m.repos, req, team)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, ErrNotAuthorized
	}

	if newOwnerDiscordID == req.DiscordID {
		return nil, ErrSelfTransfer
	}
	newOwner, err := m.repos.Users.GetByDiscordID(ctx, newOwnerDiscordID)
	if err != nil {
		return nil, fmt.Errorf("looking up new owner: %w", err)
	}
	if newOwner == nil {
		return nil, ErrNotRegistered
	}
	if newOwner.ID == team.OwnerID {
		return nil, ErrAlreadyOwner
	}
	ms, err := m.repos.Memberships.Get(ctx, newOwner.ID, team.ID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if ms == nil {
		return nil, ErrNotMember
	}

	c, err := m.confirms.Request(ctx, confirm.KindTransfer, req.DiscordID, req.DiscordID, TransferPayload{
		TeamID:          team.ID,
		TeamName:        team.Name,
		NewOwnerID:      newOwner.ID,
		NewOwnerDiscord: newOwner.DiscordID,
		PreviousOwnerID: team.OwnerID,
	}, m.timeouts.TransferTimeout)
	if err != nil {
		return nil, fmt.Errorf("requesting transfer confirmation: %w", err)
	}
	return c, nil
}

func (m *Manager) applyTransfer(ctx context.Context, s confirm.Snapshot) error {
	var p TransferPayload
	if err := s.Decode(&p); err != nil {
		return err
	}

	err := m.repos.InTx(ctx, func(r *store.Repositories) error {
		team, err := r.Teams.GetByID(ctx, p.TeamID)
		if err != nil {
			return err
		}
		if team == nil {
			return confirm.Preconditionf("team %q no longer exists", p.TeamName)
		}
		if team.OwnerID != p.PreviousOwnerID {
			return confirm.Preconditionf("ownership of %s changed since the transfer was requested", team.Name)
		}
		ms, err := r.Memberships.Get(ctx, p.NewOwnerID, p.TeamID)
		if err != nil {
			return err
		}
		if ms == nil {
			return confirm.Preconditionf("new owner is no longer a member of %s", team.Name)
		}

		team.OwnerID = p.NewOwnerID
		if err := r.Teams.Save(ctx, team); err != nil {
			return err
		}
		ms.Captain = true
		return r.Memberships.Save(ctx, ms)
	})
	if err != nil {
		return err
	}

	m.audit(ctx, event.OwnershipTransferred, event.TeamData{TeamID: p.TeamID, UserID: p.NewOwnerID, ActorID: s.Initiator})
	m.logger.InfoContext(ctx, "team ownership transferred",
		slog.Int64("team_id", p.TeamID),
		slog.Int64("previous_owner_id", p.PreviousOwnerID),
		slog.Int64("new_owner_id", p.NewOwnerID),
	)
	return nil
}

func (m *Manager) requireRegistered(ctx context.Context, req authz.Requester) error {
	user, err := m.repos.Users.GetByDiscordID(ctx, req.DiscordID)
	if err != nil {
		return fmt.Errorf("looking up requester: %w", err)
	}
	if user == nil {
		return ErrNotRegistered
	}
	return nil
}

// manageable loads the team and checks req may manage it.
func (m *Manager) manageable(ctx context.Context, req authz.Requester, teamID int64) (*store.Team, error) {
	team, err := m.teamInServer(ctx, m.repos, req.GuildID, teamID)
	if err != nil {
		return nil, err
	}
	d, err := m.authz.CanManageTeam(ctx, m.repos, req, team)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		if d.Reason == authz.ReasonNotRegistered {
			return nil, ErrNotRegistered
		}
		return nil, ErrNotAuthorized
	}
	return team, nil
}

func (m *Manager) teamInServer(ctx context.Context, r *store.Repositories, server string, teamID int64) (*store.Team, error) {
	if server == "" {
		return nil, ErrServerOnly
	}
	team, err := r.Teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("loading team: %w", err)
	}
	if team == nil || team.DiscordServer != server {
		return nil, ErrTeamNotFound
	}
	return team, nil
}

// audit appends a team event. Failures are logged, not returned.
func (m *Manager) audit(ctx context.Context, t event.Type, data event.TeamData) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to marshal team event", slog.Any("error", err))
		return
	}
	if err := m.repos.Events.Append(ctx, event.Event{
		AggregateID: fmt.Sprintf("team-%d", data.TeamID),
		Type:        t,
		Data:        raw,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to append team event",
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}
