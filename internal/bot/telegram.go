package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/artur/dispatch-bot/internal/dialog"
	"github.com/artur/dispatch-bot/internal/permission"
)

// Deliver sends or edits a message and returns its id.
func (b *Bot) Deliver(ctx context.Context, a dialog.Action) (int, error) {
	if a.Kind == dialog.ActionEdit && a.MessageID != 0 {
		id, err := b.edit(a)
		if err == nil {
			return id, nil
		}
		if !isGone(err) {
			return 0, err
		}
		zerolog.Ctx(ctx).Debug().Err(err).Int("message_id", a.MessageID).Msg("Message cannot be edited, sending a new one")
	}

	msg := tgbotapi.NewMessage(a.ChatID, a.Text)
	if len(a.Choices) > 0 {
		msg.ReplyMarkup = keyboard(a.Choices)
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (b *Bot) edit(a dialog.Action) (int, error) {
	var edit tgbotapi.EditMessageTextConfig
	if len(a.Choices) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(a.ChatID, a.MessageID, a.Text, keyboard(a.Choices))
	} else {
		edit = tgbotapi.NewEditMessageText(a.ChatID, a.MessageID, a.Text)
	}

	if _, err := b.api.Send(edit); err != nil {
		if apiMessage(err, "message is not modified") {
			return a.MessageID, nil
		}
		return 0, fmt.Errorf("edit message: %w", err)
	}
	return a.MessageID, nil
}

func keyboard(choices []dialog.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// isGone reports an edit failure that a fresh message fixes.
func isGone(err error) bool {
	return apiMessage(err, "message to edit not found") ||
		apiMessage(err, "message can't be edited")
}

func apiMessage(err error, substr string) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, substr)
}

// GetMember reads the user's standing in the managed chat. Without a managed
// chat every user has no membership.
func (b *Bot) GetMember(ctx context.Context, userID int64) (permission.Snapshot, error) {
	if b.managedChatID == 0 {
		return permission.NoMembership, nil
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: b.managedChatID,
			UserID: userID,
		},
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
			zerolog.Ctx(ctx).Debug().Err(err).Int64("user_id", userID).Msg("User unknown to managed chat")
			return permission.NoMembership, nil
		}
		return permission.Snapshot{}, fmt.Errorf("get chat member: %w", err)
	}
	return SnapshotFromMember(member), nil
}

// SnapshotFromMember converts a Telegram chat member into a permission
// snapshot. Plain members hold the chat's default send rights.
func SnapshotFromMember(m tgbotapi.ChatMember) permission.Snapshot {
	snap := permission.Snapshot{
		Status:      memberStatus(m.Status),
		IsAnonymous: m.IsAnonymous,
	}

	flags := []struct {
		set bool
		cap permission.Capability
	}{
		{m.CanChangeInfo, permission.CapChangeInfo},
		{m.CanPostMessages, permission.CapPostMessages},
		{m.CanEditMessages, permission.CapEditMessages},
		{m.CanDeleteMessages, permission.CapDeleteMessages},
		{m.CanRestrictMembers, permission.CapRestrictMembers},
		{m.CanPromoteMembers, permission.CapPromoteMembers},
		{m.CanInviteUsers, permission.CapInviteUsers},
		{m.CanPinMessages, permission.CapPinMessages},
		{m.CanManageVoiceChats, permission.CapManageVoiceChats},
		{m.CanManageChat, permission.CapManageChat},
		{m.CanSendMessages, permission.CapSendMessages},
		{m.CanSendMediaMessages, permission.CapSendMedia},
		{m.CanSendPolls, permission.CapSendPolls},
		{m.CanSendOtherMessages, permission.CapSendOther},
		{m.CanAddWebPagePreviews, permission.CapAddWebPagePreviews},
	}
	for _, f := range flags {
		if f.set {
			snap.Flags |= f.cap
		}
	}

	if snap.Status == permission.StatusMember {
		snap.Flags |= permission.SendCaps
	}
	return snap
}

func memberStatus(s string) permission.MemberStatus {
	switch permission.MemberStatus(s) {
	case permission.StatusCreator, permission.StatusAdministrator, permission.StatusMember,
		permission.StatusRestricted, permission.StatusLeft, permission.StatusKicked:
		return permission.MemberStatus(s)
	}
	return permission.StatusLeft
}
