package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	ConfirmationRequested Type = "confirmation.requested"
	ConfirmationApproved  Type = "confirmation.approved"
	ConfirmationDeclined  Type = "confirmation.declined"
	ConfirmationTimedOut  Type = "confirmation.timed_out"

	TeamCreated          Type = "team.created"
	TeamEdited           Type = "team.edited"
	MemberJoined         Type = "team.member_joined"
	MemberLeft           Type = "team.member_left"
	MemberRemoved        Type = "team.member_removed"
	OwnershipTransferred Type = "team.ownership_transferred"

	AdminGranted  Type = "admin.granted"
	AdminRevoked  Type = "admin.revoked"
	DatabaseReset Type = "admin.database_reset"
)

// Event represents a single domain event.
type Event struct {
	ID          int64           `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ConfirmationRequestedData is the payload for ConfirmationRequested events.
type ConfirmationRequestedData struct {
	Kind      string          `json:"kind"`
	Initiator string          `json:"initiator"`
	Responder string          `json:"responder"`
	Deadline  time.Time       `json:"deadline"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConfirmationResolvedData is the payload for approved, declined and timed
// out confirmation events.
type ConfirmationResolvedData struct {
	By     string `json:"by,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TeamData is the payload for team events.
type TeamData struct {
	TeamID  int64  `json:"team_id"`
	Name    string `json:"name,omitempty"`
	Tag     string `json:"tag,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

// AdminData is the payload for admin events.
type AdminData struct {
	Scope   string `json:"scope,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	RoleID  string `json:"role_id,omitempty"`
	Server  string `json:"server,omitempty"`
	ActorID string `json:"actor_id"`
}
