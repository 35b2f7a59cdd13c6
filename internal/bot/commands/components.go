package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/admin"
	"github.com/jensholdgaard/discord-scrim-bot/internal/confirm"
	"github.com/jensholdgaard/discord-scrim-bot/internal/teams"
)

const customIDPrefix = "confirm"

func customID(confirmationID string, approve bool) string {
	verb := "decline"
	if approve {
		verb = "approve"
	}
	return customIDPrefix + ":" + confirmationID + ":" + verb
}

func parseCustomID(s string) (id string, approve bool, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" {
		return "", false, false
	}
	switch parts[2] {
	case "approve":
		return parts[1], true, true
	case "decline":
		return parts[1], false, true
	}
	return "", false, false
}

func confirmButtons(id string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Accept", Style: discordgo.SuccessButton, CustomID: customID(id, true)},
			discordgo.Button{Label: "Decline", Style: discordgo.DangerButton, CustomID: customID(id, false)},
		}},
	}
}

// sendInvite delivers an invitation to the invitee by direct message. When
// the invitee does not accept DMs the prompt is posted in the channel
// instead.
func (h *Handlers) sendInvite(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, snap confirm.Snapshot) {
	msg := &discordgo.MessageSend{Content: describe(snap), Components: confirmButtons(snap.ID)}

	ch, err := s.UserChannelCreate(snap.Responder)
	if err == nil {
		var sent *discordgo.Message
		sent, err = s.ChannelMessageSendComplex(ch.ID, msg)
		if err == nil {
			h.prompts.put(snap.ID, promptRef{channelID: ch.ID, messageID: sent.ID})
			reply(s, i, fmt.Sprintf("📨 Invitation sent to <@%s>. It expires <t:%d:R>.", snap.Responder, snap.Deadline.Unix()))
			return
		}
	}

	h.logger.InfoContext(ctx, "invite DM failed, posting in channel",
		slog.String("confirmation_id", snap.ID),
		slog.Any("error", err),
	)
	h.prompts.put(snap.ID, promptRef{interaction: i.Interaction})
	respondData(s, i, &discordgo.InteractionResponseData{
		Content:    fmt.Sprintf("<@%s> %s", snap.Responder, msg.Content),
		Components: msg.Components,
	})

	// The interaction token dies after 15 minutes, before a slow invite does.
	posted, err := s.InteractionResponse(i.Interaction)
	if err != nil {
		h.logger.WarnContext(ctx, "fetching invite message",
			slog.String("confirmation_id", snap.ID),
			slog.Any("error", err),
		)
	}
	h.prompts.update(snap.ID, fallbackRef(posted, err, i.Interaction))
}

// fallbackRef locates a prompt posted as an interaction response, preferring
// the message itself over the interaction.
func fallbackRef(posted *discordgo.Message, err error, i *discordgo.Interaction) promptRef {
	if err != nil || posted == nil || posted.ID == "" {
		return promptRef{interaction: i}
	}
	return promptRef{channelID: posted.ChannelID, messageID: posted.ID}
}

// sendPrompt shows a confirmation to the requester as an ephemeral reply.
func (h *Handlers) sendPrompt(s *discordgo.Session, i *discordgo.InteractionCreate, snap confirm.Snapshot) {
	h.prompts.put(snap.ID, promptRef{interaction: i.Interaction})
	respondData(s, i, &discordgo.InteractionResponseData{
		Content:    describe(snap),
		Components: confirmButtons(snap.ID),
		Flags:      discordgo.MessageFlagsEphemeral,
	})
}

// component handles Accept and Decline buttons.
func (h *Handlers) component(s *discordgo.Session, i *discordgo.InteractionCreate) {
	id, approve, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(context.Background(), "ConfirmButton",
		trace.WithAttributes(
			attribute.String("confirmation.id", id),
			attribute.Bool("approve", approve),
		),
	)
	defer span.End()

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		h.logger.WarnContext(ctx, "acknowledging button", slog.Any("error", err))
	}

	// Prompts posted before a restart have no stored reference; the clicked
	// message is edited instead.
	h.prompts.adopt(id, promptRef{interaction: i.Interaction})

	req := requesterFrom(i)
	state, err := h.confirms.Respond(ctx, id, req.DiscordID, approve)
	switch {
	case err == nil:
	case errors.Is(err, confirm.ErrNotFound), errors.Is(err, confirm.ErrResolved):
		h.prompts.take(id)
		h.editPrompt(ctx, promptRef{interaction: i.Interaction}, "This request is no longer active.")
	case state.Terminal():
		// Already reflected in the prompt by onResolved.
	default:
		msg, internal := userMessage(err)
		if internal {
			h.logger.ErrorContext(ctx, "confirmation response failed",
				slog.String("confirmation_id", id),
				slog.Any("error", err),
			)
		}
		if _, err := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		}); err != nil {
			h.logger.WarnContext(ctx, "sending followup", slog.Any("error", err))
		}
	}
}

// onResolved rewrites a prompt with its outcome and removes the buttons.
func (h *Handlers) onResolved(ctx context.Context, snap confirm.Snapshot) {
	ref, ok := h.prompts.take(snap.ID)
	if !ok {
		h.logger.DebugContext(ctx, "no prompt to update", slog.String("confirmation_id", snap.ID))
		return
	}
	h.editPrompt(ctx, ref, describe(snap))
}

func (h *Handlers) editPrompt(ctx context.Context, ref promptRef, content string) {
	if h.session == nil {
		return
	}
	none := []discordgo.MessageComponent{}

	var err error
	if ref.interaction != nil {
		_, err = h.session.InteractionResponseEdit(ref.interaction, &discordgo.WebhookEdit{
			Content:    &content,
			Components: &none,
		})
	} else {
		_, err = h.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         ref.messageID,
			Channel:    ref.channelID,
			Content:    &content,
			Components: &none,
		})
	}
	if err != nil {
		h.logger.WarnContext(ctx, "updating confirmation prompt", slog.Any("error", err))
	}
}

// describe renders a confirmation for its current state.
func describe(s confirm.Snapshot) string {
	var subject, pending, approved string

	switch s.Kind {
	case confirm.KindInvite:
		var p teams.InvitePayload
		_ = s.Decode(&p)
		subject = fmt.Sprintf("Invitation to **%s**", p.TeamName)
		pending = fmt.Sprintf("📨 <@%s> invited you to join **%s**.", p.InvitedBy, p.TeamName)
		approved = fmt.Sprintf("✅ You joined **%s**.", p.TeamName)
	case confirm.KindTransfer:
		var p teams.TransferPayload
		_ = s.Decode(&p)
		subject = fmt.Sprintf("Ownership transfer of **%s**", p.TeamName)
		pending = fmt.Sprintf("⚠️ Transfer ownership of **%s** to <@%s>?", p.TeamName, p.NewOwnerDiscord)
		approved = fmt.Sprintf("✅ <@%s> now owns **%s**.", p.NewOwnerDiscord, p.TeamName)
	case confirm.KindReset:
		var p admin.ResetPayload
		_ = s.Decode(&p)
		subject = "Database reset"
		pending = "⚠️ This drops and recreates every table except the logs."
		approved = fmt.Sprintf("✅ Database reset by <@%s>.", p.RequestedBy)
	default:
		subject = "Request"
		pending = "Please confirm."
		approved = "✅ Done."
	}

	switch s.State {
	case confirm.StatePending:
		return fmt.Sprintf("%s Expires <t:%d:R>.", pending, s.Deadline.Unix())
	case confirm.StateApproved:
		return approved
	case confirm.StateDeclined:
		msg := "❌ " + subject + " declined."
		if s.Reason != "" {
			msg += " " + capitalize(s.Reason) + "."
		}
		return msg
	case confirm.StateTimedOut:
		return "⌛ " + subject + " expired."
	}
	return subject
}
