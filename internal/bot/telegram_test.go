package bot

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artur/dispatch-bot/internal/dialog"
	"github.com/artur/dispatch-bot/internal/permission"
)

func TestDeliver_Send(t *testing.T) {
	api := newFakeAPI()
	bot := NewWithAPI(api, Options{})

	id, err := bot.Deliver(context.Background(), dialog.Action{
		Kind:    dialog.ActionSend,
		ChatID:  5,
		Text:    "Choose your language.",
		Choices: []dialog.Choice{{Label: "Русский", Data: "choose_language:ru"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.Len(t, api.sent, 1)
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(5), msg.ChatID)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "choose_language:ru", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestDeliver_Edit(t *testing.T) {
	api := newFakeAPI()
	bot := NewWithAPI(api, Options{})

	id, err := bot.Deliver(context.Background(), dialog.Action{
		Kind:      dialog.ActionEdit,
		ChatID:    5,
		MessageID: 77,
		Text:      "Done.",
	})
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	require.Len(t, api.sent, 1)
	edit, ok := api.sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 77, edit.MessageID)
	assert.Equal(t, "Done.", edit.Text)
}

func TestDeliver_EditNotModifiedIsSuccess(t *testing.T) {
	api := newFakeAPI()
	api.sendErrs = []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	bot := NewWithAPI(api, Options{})

	id, err := bot.Deliver(context.Background(), dialog.Action{Kind: dialog.ActionEdit, ChatID: 5, MessageID: 77, Text: "same"})
	require.NoError(t, err)
	assert.Equal(t, 77, id)
	assert.Len(t, api.sent, 1)
}

func TestDeliver_EditFallsBackToSend(t *testing.T) {
	api := newFakeAPI()
	api.sendErrs = []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}}
	bot := NewWithAPI(api, Options{})

	id, err := bot.Deliver(context.Background(), dialog.Action{Kind: dialog.ActionEdit, ChatID: 5, MessageID: 77, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.Len(t, api.sent, 2)
	_, ok := api.sent[1].(tgbotapi.MessageConfig)
	assert.True(t, ok)
}

func TestDeliver_Error(t *testing.T) {
	api := newFakeAPI()
	api.sendErrs = []error{errors.New("connection reset")}
	bot := NewWithAPI(api, Options{})

	_, err := bot.Deliver(context.Background(), dialog.Action{Kind: dialog.ActionSend, ChatID: 5, Text: "x"})
	assert.Error(t, err)
}

func TestGetMember(t *testing.T) {
	t.Run("no managed chat", func(t *testing.T) {
		api := newFakeAPI()
		bot := NewWithAPI(api, Options{})

		snap, err := bot.GetMember(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, permission.NoMembership, snap)
		assert.Zero(t, api.memberReq.ChatID)
	})

	t.Run("reads managed chat", func(t *testing.T) {
		api := newFakeAPI()
		api.member = tgbotapi.ChatMember{Status: "administrator", CanPromoteMembers: true}
		bot := NewWithAPI(api, Options{ManagedChatID: -100})

		snap, err := bot.GetMember(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(-100), api.memberReq.ChatID)
		assert.Equal(t, int64(5), api.memberReq.UserID)
		assert.Equal(t, permission.StatusAdministrator, snap.Status)
		assert.True(t, snap.Flags.Has(permission.CapPromoteMembers))
	})

	t.Run("unknown user", func(t *testing.T) {
		api := newFakeAPI()
		api.memberErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: user not found"}
		bot := NewWithAPI(api, Options{ManagedChatID: -100})

		snap, err := bot.GetMember(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, permission.NoMembership, snap)
	})

	t.Run("transport failure", func(t *testing.T) {
		api := newFakeAPI()
		api.memberErr = errors.New("timeout")
		bot := NewWithAPI(api, Options{ManagedChatID: -100})

		_, err := bot.GetMember(context.Background(), 5)
		assert.Error(t, err)
	})
}

func TestSnapshotFromMember(t *testing.T) {
	tests := []struct {
		name       string
		member     tgbotapi.ChatMember
		wantStatus permission.MemberStatus
		want       permission.Capability
		notWant    permission.Capability
	}{
		{
			name:       "creator",
			member:     tgbotapi.ChatMember{Status: "creator", IsAnonymous: true},
			wantStatus: permission.StatusCreator,
		},
		{
			name: "administrator flags",
			member: tgbotapi.ChatMember{
				Status:             "administrator",
				CanRestrictMembers: true,
				CanPinMessages:     true,
			},
			wantStatus: permission.StatusAdministrator,
			want:       permission.CapRestrictMembers | permission.CapPinMessages,
			notWant:    permission.CapPromoteMembers,
		},
		{
			name:       "plain member sends",
			member:     tgbotapi.ChatMember{Status: "member"},
			wantStatus: permission.StatusMember,
			want:       permission.SendCaps,
			notWant:    permission.CapPinMessages,
		},
		{
			name: "restricted keeps listed rights only",
			member: tgbotapi.ChatMember{
				Status:          "restricted",
				IsMember:        true,
				CanSendMessages: true,
			},
			wantStatus: permission.StatusRestricted,
			want:       permission.CapSendMessages,
			notWant:    permission.CapSendMedia,
		},
		{
			name:       "unknown status is treated as left",
			member:     tgbotapi.ChatMember{Status: "banished"},
			wantStatus: permission.StatusLeft,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := SnapshotFromMember(tt.member)
			assert.Equal(t, tt.wantStatus, snap.Status)
			if tt.want != 0 {
				assert.True(t, snap.Flags.Has(tt.want), "flags %s", snap.Flags)
			}
			if tt.notWant != 0 {
				assert.False(t, snap.Flags.Any(tt.notWant), "flags %s", snap.Flags)
			}
		})
	}
}
