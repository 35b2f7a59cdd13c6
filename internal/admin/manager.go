// Package admin manages bot administrator grants and the full database
// reset. Every operation is restricted to the bot owner.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/confirm"
	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

var (
	ErrNotBotOwner       = errors.New("only the bot owner can do this")
	ErrAlreadyAdmin      = errors.New("already a bot admin")
	ErrNotAdmin          = errors.New("not a bot admin")
	ErrCannotRemoveOwner = errors.New("the bot owner cannot be removed")
	ErrServerOnly        = errors.New("role admins can only be managed inside a server")
)

// ResetPayload is carried by reset confirmations.
type ResetPayload struct {
	RequestedBy string `json:"requested_by"`
	Server      string `json:"server,omitempty"`
}

// Manager handles admin grants.
type Manager struct {
	repos    *store.Repositories
	authz    *authz.Resolver
	confirms *confirm.Manager
	timeouts config.ConfirmConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager creates an admin Manager and registers the reset action.
func NewManager(repos *store.Repositories, resolver *authz.Resolver, confirms *confirm.Manager, timeouts config.ConfirmConfig, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	m := &Manager{
		repos:    repos,
		authz:    resolver,
		confirms: confirms,
		timeouts: timeouts,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-scrim-bot/internal/admin"),
	}
	confirms.Handle(confirm.KindReset, m.reset)
	return m
}

// AddUser grants bot admin to a user. The requester and target user records
// are created in the same transaction as the grant.
func (m *Manager) AddUser(ctx context.Context, req authz.Requester, targetDiscordID, targetName string) (*store.AdminConfig, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddUser",
		trace.WithAttributes(attribute.String("target", targetDiscordID)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}

	var grant *store.AdminConfig
	err := m.repos.InTx(ctx, func(r *store.Repositories) error {
		existing, err := r.Admins.GetByUserID(ctx, targetDiscordID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Admin {
			return ErrAlreadyAdmin
		}

		actor, err := r.Users.GetOrCreate(ctx, req.DiscordID, req.DisplayName)
		if err != nil {
			return fmt.Errorf("ensuring requester: %w", err)
		}
		if _, err := r.Users.GetOrCreate(ctx, targetDiscordID, targetName); err != nil {
			return fmt.Errorf("ensuring target: %w", err)
		}

		if existing != nil {
			existing.Admin = true
			existing.UpdatedBy = &actor.ID
			grant = existing
		} else {
			grant = &store.AdminConfig{
				DiscordUserID: &targetDiscordID,
				Scope:         store.ScopeUser,
				Admin:         true,
				CreatedBy:     actor.ID,
			}
		}
		return r.Admins.Save(ctx, grant)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAdmin) {
			return nil, err
		}
		return nil, fmt.Errorf("granting user admin: %w", err)
	}

	m.audit(ctx, event.AdminGranted, event.AdminData{Scope: string(store.ScopeUser), UserID: targetDiscordID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "user admin granted",
		slog.String("user", targetDiscordID),
		slog.String("by", req.DiscordID),
	)
	return grant, nil
}

// AddRole grants bot admin to a role in the requester's server.
func (m *Manager) AddRole(ctx context.Context, req authz.Requester, roleID string) (*store.AdminConfig, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddRole",
		trace.WithAttributes(attribute.String("role", roleID)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	if req.GuildID == "" {
		return nil, ErrServerOnly
	}

	var grant *store.AdminConfig
	err := m.repos.InTx(ctx, func(r *store.Repositories) error {
		existing, err := r.Admins.GetByServerAndRole(ctx, req.GuildID, roleID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Admin {
			return ErrAlreadyAdmin
		}
		actor, err := r.Users.GetOrCreate(ctx, req.DiscordID, req.DisplayName)
		if err != nil {
			return fmt.Errorf("ensuring requester: %w", err)
		}

		if existing != nil {
			existing.Admin = true
			existing.UpdatedBy = &actor.ID
			grant = existing
		} else {
			server := req.GuildID
			grant = &store.AdminConfig{
				DiscordServerID: &server,
				DiscordRoleID:   &roleID,
				Scope:           store.ScopeRole,
				Admin:           true,
				CreatedBy:       actor.ID,
			}
		}
		return r.Admins.Save(ctx, grant)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAdmin) {
			return nil, err
		}
		return nil, fmt.Errorf("granting role admin: %w", err)
	}

	m.audit(ctx, event.AdminGranted, event.AdminData{Scope: string(store.ScopeRole), RoleID: roleID, Server: req.GuildID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "role admin granted",
		slog.String("role", roleID),
		slog.String("server", req.GuildID),
	)
	return grant, nil
}

// RemoveUser revokes a user's admin grant.
func (m *Manager) RemoveUser(ctx context.Context, req authz.Requester, targetDiscordID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RemoveUser",
		trace.WithAttributes(attribute.String("target", targetDiscordID)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return err
	}
	owner, err := m.authz.IsBotOwner(ctx, authz.Requester{DiscordID: targetDiscordID})
	if err != nil {
		return err
	}
	if owner {
		return ErrCannotRemoveOwner
	}

	grant, err := m.repos.Admins.GetByUserID(ctx, targetDiscordID)
	if err != nil {
		return fmt.Errorf("looking up grant: %w", err)
	}
	if grant == nil {
		return ErrNotAdmin
	}
	if _, err := m.repos.Admins.Delete(ctx, grant.ID); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}

	m.audit(ctx, event.AdminRevoked, event.AdminData{Scope: string(store.ScopeUser), UserID: targetDiscordID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "user admin revoked", slog.String("user", targetDiscordID))
	return nil
}

// RemoveRole revokes a role's admin grant in the requester's server.
func (m *Manager) RemoveRole(ctx context.Context, req authz.Requester, roleID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RemoveRole",
		trace.WithAttributes(attribute.String("role", roleID)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return err
	}
	if req.GuildID == "" {
		return ErrServerOnly
	}

	grant, err := m.repos.Admins.GetByServerAndRole(ctx, req.GuildID, roleID)
	if err != nil {
		return fmt.Errorf("looking up grant: %w", err)
	}
	if grant == nil {
		return ErrNotAdmin
	}
	if _, err := m.repos.Admins.Delete(ctx, grant.ID); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}

	m.audit(ctx, event.AdminRevoked, event.AdminData{Scope: string(store.ScopeRole), RoleID: roleID, Server: req.GuildID, ActorID: req.DiscordID})
	m.logger.InfoContext(ctx, "role admin revoked",
		slog.String("role", roleID),
		slog.String("server", req.GuildID),
	)
	return nil
}

// List returns every active admin grant.
func (m *Manager) List(ctx context.Context, req authz.Requester) ([]store.AdminConfig, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.List")
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	grants, err := m.repos.Admins.GetAllAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	return grants, nil
}

// RequestReset asks the bot owner to confirm dropping every table except
// the logs.
func (m *Manager) RequestReset(ctx context.Context, req authz.Requester) (*confirm.Confirmation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RequestReset")
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	c, err := m.confirms.Request(ctx, confirm.KindReset, req.DiscordID, req.DiscordID,
		ResetPayload{RequestedBy: req.DiscordID, Server: req.GuildID}, m.timeouts.ResetTimeout)
	if err != nil {
		return nil, fmt.Errorf("requesting reset confirmation: %w", err)
	}
	return c, nil
}

func (m *Manager) reset(ctx context.Context, s confirm.Snapshot) error {
	var p ResetPayload
	if err := s.Decode(&p); err != nil {
		return err
	}
	owner, err := m.authz.IsBotOwner(ctx, authz.Requester{DiscordID: p.RequestedBy})
	if err != nil {
		return err
	}
	if !owner {
		return confirm.Preconditionf("%s is no longer the bot owner", p.RequestedBy)
	}

	dropped, err := m.repos.Schema.Reset(ctx)
	if err != nil {
		return fmt.Errorf("resetting database: %w", err)
	}

	// The events table was just recreated, so the reset is recorded in the
	// log only.
	m.logger.WarnContext(ctx, "database reset",
		slog.String("event", string(event.DatabaseReset)),
		slog.String("by", p.RequestedBy),
		slog.Int("dropped", dropped),
	)
	return nil
}

func (m *Manager) requireOwner(ctx context.Context, req authz.Requester) error {
	owner, err := m.authz.IsBotOwner(ctx, req)
	if err != nil {
		return err
	}
	if !owner {
		return ErrNotBotOwner
	}
	return nil
}

// audit appends an admin event. Failures are logged, not returned.
func (m *Manager) audit(ctx context.Context, t event.Type, data event.AdminData) {
	raw, err := json.Marshal(data)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to marshal admin event", slog.Any("error", err))
		return
	}
	aggregate := "admin-user-" + data.UserID
	if data.Scope == string(store.ScopeRole) {
		aggregate = "admin-role-" + data.Server + "-" + data.RoleID
	}
	if err := m.repos.Events.Append(ctx, event.Event{
		AggregateID: aggregate,
		Type:        t,
		Data:        raw,
	}); err != nil {
		m.logger.ErrorContext(ctx, "failed to append admin event",
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}
