// Package authz decides whether a requester may manage a team or administer
// the bot. The resolver keeps no state: every decision reads the datastore it
// is handed, so grants and revocations apply to the very next request.
package authz

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

// Reason names the rule that produced a decision.
type Reason string

const (
	ReasonTeamOwner     Reason = "team_owner"
	ReasonCaptain       Reason = "captain"
	ReasonBotOwner      Reason = "bot_owner"
	ReasonUserAdmin     Reason = "user_admin"
	ReasonRoleAdmin     Reason = "role_admin"
	ReasonNotRegistered Reason = "not_registered"
	ReasonNone          Reason = "none"
)

// Decision is the outcome of an authorization check. A denial is a Decision,
// not an error.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Reason: r} }

// Requester identifies who is asking, in which guild and with which roles.
type Requester struct {
	DiscordID string
	GuildID   string
	RoleIDs   []string

	// DisplayName is stored when the requester's user record is created.
	DisplayName string
}

// OwnerChecker reports whether a platform user owns the bot application.
type OwnerChecker interface {
	IsBotOwner(ctx context.Context, discordID string) (bool, error)
}

// OwnerFunc adapts a function to OwnerChecker.
type OwnerFunc func(ctx context.Context, discordID string) (bool, error)

func (f OwnerFunc) IsBotOwner(ctx context.Context, discordID string) (bool, error) {
	return f(ctx, discordID)
}

// StaticOwner treats a single configured id as the bot owner.
type StaticOwner string

func (s StaticOwner) IsBotOwner(_ context.Context, discordID string) (bool, error) {
	return s != "" && string(s) == discordID, nil
}

// Resolver evaluates authorization rules.
type Resolver struct {
	owner  OwnerChecker
	tracer trace.Tracer
}

// NewResolver returns a Resolver that consults owner for the bot owner rule.
func NewResolver(owner OwnerChecker, tp trace.TracerProvider) *Resolver {
	return &Resolver{
		owner:  owner,
		tracer: tp.Tracer("github.com/jensholdgaard/discord-scrim-bot/internal/authz"),
	}
}

// CanManageTeam applies, in order and stopping at the first match: team
// owner, team captain, bot owner, user-scoped admin, role-scoped admin in the
// requester's guild. A requester without a user record is denied outright.
func (r *Resolver) CanManageTeam(ctx context.Context, repos *store.Repositories, req Requester, team *store.Team) (Decision, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.CanManageTeam",
		trace.WithAttributes(
			attribute.String("requester", req.DiscordID),
			attribute.Int64("team.id", team.ID),
		),
	)
	defer span.End()

	user, err := repos.Users.GetByDiscordID(ctx, req.DiscordID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up requester: %w", err)
	}
	if user == nil {
		return r.record(span, deny(ReasonNotRegistered)), nil
	}

	if user.ID == team.OwnerID {
		return r.record(span, allow(ReasonTeamOwner)), nil
	}

	m, err := repos.Memberships.Get(ctx, user.ID, team.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up membership: %w", err)
	}
	if m != nil && m.Captain {
		return r.record(span, allow(ReasonCaptain)), nil
	}

	d, err := r.adminRules(ctx, repos, req)
	if err != nil {
		return Decision{}, err
	}
	return r.record(span, d), nil
}

// CanTransferOwnership allows the team owner and bot admins. Captains may
// manage a team but not give it away.
func (r *Resolver) CanTransferOwnership(ctx context.Context, repos *store.Repositories, req Requester, team *store.Team) (Decision, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.CanTransferOwnership",
		trace.WithAttributes(attribute.Int64("team.id", team.ID)),
	)
	defer span.End()

	user, err := repos.Users.GetByDiscordID(ctx, req.DiscordID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up requester: %w", err)
	}
	if user != nil && user.ID == team.OwnerID {
		return r.record(span, allow(ReasonTeamOwner)), nil
	}

	d, err := r.adminRules(ctx, repos, req)
	if err != nil {
		return Decision{}, err
	}
	return r.record(span, d), nil
}

// IsBotAdmin applies the bot owner and admin grant rules only. It needs no
// user record.
func (r *Resolver) IsBotAdmin(ctx context.Context, repos *store.Repositories, req Requester) (Decision, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.IsBotAdmin")
	defer span.End()

	d, err := r.adminRules(ctx, repos, req)
	if err != nil {
		return Decision{}, err
	}
	return r.record(span, d), nil
}

// IsBotOwner reports whether req is the bot owner.
func (r *Resolver) IsBotOwner(ctx context.Context, req Requester) (bool, error) {
	ok, err := r.owner.IsBotOwner(ctx, req.DiscordID)
	if err != nil {
		return false, fmt.Errorf("checking bot owner: %w", err)
	}
	return ok, nil
}

func (r *Resolver) adminRules(ctx context.Context, repos *store.Repositories, req Requester) (Decision, error) {
	owner, err := r.IsBotOwner(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if owner {
		return allow(ReasonBotOwner), nil
	}

	a, err := repos.Admins.GetByUserID(ctx, req.DiscordID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up user admin: %w", err)
	}
	if a != nil && a.Admin {
		return allow(ReasonUserAdmin), nil
	}

	if req.GuildID == "" {
		return deny(ReasonNone), nil
	}
	for _, role := range req.RoleIDs {
		a, err := repos.Admins.GetByServerAndRole(ctx, req.GuildID, role)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up role admin: %w", err)
		}
		if a != nil && a.Admin {
			return allow(ReasonRoleAdmin), nil
		}
	}
	return deny(ReasonNone), nil
}

func (r *Resolver) record(span trace.Span, d Decision) Decision {
	span.SetAttributes(
		attribute.Bool("authz.allowed", d.Allowed),
		attribute.String("authz.reason", string(d.Reason)),
	)
	return d
}
