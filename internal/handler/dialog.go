package handler

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/artur/dispatch-bot/internal/bot"
	"github.com/artur/dispatch-bot/internal/dialog"
)

// Engine runs one normalized event through the dialog state machine.
type Engine interface {
	Handle(ctx context.Context, ev dialog.Event) (dialog.Result, error)
}

// DialogHandler feeds private messages, button presses and managed chat
// membership changes into the dialog engine.
type DialogHandler struct {
	engine        Engine
	managedChatID int64
}

func NewDialogHandler(engine Engine, managedChatID int64) *DialogHandler {
	return &DialogHandler{
		engine:        engine,
		managedChatID: managedChatID,
	}
}

func (h *DialogHandler) CanHandle(update tgbotapi.Update) bool {
	switch {
	case update.Message != nil:
		return update.Message.From != nil && update.Message.Chat != nil && update.Message.Chat.IsPrivate()
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From != nil
	case update.ChatMember != nil:
		return h.managedChatID != 0 &&
			update.ChatMember.Chat.ID == h.managedChatID &&
			update.ChatMember.NewChatMember.User != nil
	}
	return false
}

func (h *DialogHandler) Handle(ctx context.Context, api bot.API, update tgbotapi.Update) error {
	l := zerolog.Ctx(ctx)

	if cb := update.CallbackQuery; cb != nil {
		// Stops the client spinner whatever the outcome.
		if _, err := api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			l.Warn().Err(err).Msg("Failed to answer callback")
		}
	}

	ev, ok := toEvent(update)
	if !ok {
		return nil
	}

	res, err := h.engine.Handle(ctx, ev)
	if err != nil {
		return err
	}

	l.Info().
		Str("user", getUserName(ev.From.FirstName, ev.From.Username)).
		Str("kind", string(ev.Kind)).
		Str("outcome", string(res.Outcome)).
		Str("step", string(res.Step)).
		Msg("Update handled")
	return nil
}

// toEvent normalizes a Telegram update for the dialog engine.
func toEvent(update tgbotapi.Update) (dialog.Event, bool) {
	ev := dialog.Event{UpdateID: update.UpdateID}

	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		ev.ChatID = msg.From.ID
		ev.From = profile(msg.From)
		switch {
		case msg.IsCommand():
			ev.Kind = dialog.KindCommand
			ev.Command = msg.Command()
			ev.Payload = msg.CommandArguments()
		case msg.Contact != nil:
			ev.Kind = dialog.KindText
			// Only the sender's own number registers.
			if msg.Contact.UserID == msg.From.ID {
				ev.Payload = msg.Contact.PhoneNumber
			}
		default:
			ev.Kind = dialog.KindText
			ev.Payload = msg.Text
		}
		return ev, true

	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		cb := update.CallbackQuery
		ev.ChatID = cb.From.ID
		ev.Kind = dialog.KindCallback
		ev.Payload = cb.Data
		ev.From = profile(cb.From)
		if cb.Message != nil {
			ev.MessageID = cb.Message.MessageID
		}
		return ev, true

	case update.ChatMember != nil && update.ChatMember.NewChatMember.User != nil:
		member := update.ChatMember.NewChatMember
		snap := bot.SnapshotFromMember(member)
		ev.ChatID = member.User.ID
		ev.Kind = dialog.KindMembershipChanged
		ev.From = profile(member.User)
		ev.Member = &snap
		return ev, true
	}

	return ev, false
}

func profile(u *tgbotapi.User) dialog.Profile {
	return dialog.Profile{
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.UserName,
		LanguageCode: u.LanguageCode,
	}
}

func getUserName(firstName, userName string) string {
	if firstName != "" {
		return firstName
	}
	return userName
}
