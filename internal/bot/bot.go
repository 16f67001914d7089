package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/artur/dispatch-bot/internal/dialog"
	"github.com/artur/dispatch-bot/internal/idempotency"
	"github.com/artur/dispatch-bot/internal/server"
)

// API is the part of the Telegram client the bot uses. *tgbotapi.BotAPI
// satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

type Handler interface {
	CanHandle(update tgbotapi.Update) bool
	Handle(ctx context.Context, api API, update tgbotapi.Update) error
}

// allowedUpdates must name chat_member explicitly, Telegram omits it by default.
var allowedUpdates = []string{"message", "callback_query", "chat_member"}

type Options struct {
	// ManagedChatID is the group whose member list grants chat capabilities.
	ManagedChatID int64
	PollTimeout   int
	Deduper       idempotency.Deduper
}

type Bot struct {
	api           API
	handlers      []Handler
	dedup         idempotency.Deduper
	queue         *serialQueue
	managedChatID int64
	pollTimeout   int
}

// New authorizes token against Telegram.
func New(token string, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Info().Str("component", "bot").Str("account", api.Self.UserName).Msg("Authorized")

	return NewWithAPI(api, opts), nil
}

func NewWithAPI(api API, opts Options) *Bot {
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 60
	}
	return &Bot{
		api:           api,
		handlers:      make([]Handler, 0),
		dedup:         opts.Deduper,
		queue:         newSerialQueue(),
		managedChatID: opts.ManagedChatID,
		pollTimeout:   opts.PollTimeout,
	}
}

func (b *Bot) RegisterHandler(h Handler) {
	b.handlers = append(b.handlers, h)
	log.Info().Str("component", "bot").Str("handler", fmt.Sprintf("%T", h)).Msg("Registered handler")
}

// Run long-polls Telegram until ctx is cancelled, then waits for queued
// updates to finish.
func (b *Bot) Run(ctx context.Context) error {
	l := log.With().Str("component", "bot").Logger()
	l.Info().Int("handlers", len(b.handlers)).Msg("Starting long polling")

	// getUpdates is refused while a webhook is registered.
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		l.Warn().Err(err).Msg("Failed to delete webhook")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	u.AllowedUpdates = allowedUpdates

	updates := b.api.GetUpdatesChan(u)
	defer b.queue.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			l.Info().Msg("Long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.Dispatch(ctx, update)
		}
	}
}

// SetWebhook registers url with Telegram. Every delivery carries secret in
// the X-Telegram-Bot-Api-Secret-Token header.
func (b *Bot) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", url)
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", allowedUpdates); err != nil {
		return err
	}

	if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	log.Info().Str("component", "bot").Str("url", url).Msg("Webhook registered")
	return nil
}

// HandleWebhook decodes one webhook body, dispatches it and waits for the
// handler. A transient failure is returned so Telegram redelivers the update.
func (b *Bot) HandleWebhook(ctx context.Context, body []byte) error {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("%w: %w", server.ErrBadUpdate, err)
	}

	done := make(chan error, 1)
	if !b.dispatch(ctx, update, done) {
		return nil
	}
	select {
	case err := <-done:
		if errors.Is(err, dialog.ErrTransient) {
			return fmt.Errorf("update %d: %w", update.UpdateID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch routes an update to the first handler that accepts it. Updates
// from one user run in arrival order; different users run concurrently.
// Dispatch does not wait for the handler.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	b.dispatch(ctx, update, nil)
}

// dispatch queues update and reports whether it did. When done is not nil it
// receives the handler's error.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update, done chan<- error) bool {
	l := log.With().
		Str("component", "bot").
		Str("trace_id", uuid.NewString()).
		Int("update_id", update.UpdateID).
		Logger()

	handler := b.handlerFor(update)
	if handler == nil {
		l.Debug().Msg("No handler found for update")
		return false
	}

	if b.dedup != nil {
		fresh, err := b.dedup.MarkSeen(ctx, update.UpdateID)
		if err != nil {
			// The durable watermark still guards the dialog.
			l.Warn().Err(err).Msg("Dedup store unavailable")
		} else if !fresh {
			l.Debug().Msg("Skipping duplicate update")
			return false
		}
	}

	key := senderID(update)
	// Work outlives a webhook request.
	workCtx := l.WithContext(context.WithoutCancel(ctx))

	b.queue.Submit(key, func() {
		var err error
		if done != nil {
			defer func() { done <- err }()
		}

		l.Debug().Str("handler", fmt.Sprintf("%T", handler)).Int64("user_id", key).Msg("Handling update")
		err = handler.Handle(workCtx, b.api, update)
		if err == nil {
			return
		}
		l.Error().Err(err).Msg("Failed to handle update")
		if errors.Is(err, dialog.ErrTransient) && b.dedup != nil {
			// Let a redelivery through.
			if err := b.dedup.Forget(workCtx, update.UpdateID); err != nil {
				l.Warn().Err(err).Msg("Failed to forget update")
			}
		}
	})
	return true
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() {
	b.queue.Wait()
}

func (b *Bot) handlerFor(update tgbotapi.Update) Handler {
	for _, h := range b.handlers {
		if h.CanHandle(update) {
			return h
		}
	}
	return nil
}

// senderID returns the Telegram user an update belongs to.
func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.ChatMember != nil && update.ChatMember.NewChatMember.User != nil:
		return update.ChatMember.NewChatMember.User.ID
	}
	return 0
}
