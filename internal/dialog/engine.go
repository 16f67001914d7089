// Package dialog is the conversation state machine. It turns inbound events
// into dialog transitions, authorization decisions and outbound actions.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artur/dispatch-bot/internal/database/models"
	"github.com/artur/dispatch-bot/internal/database/repository"
	"github.com/artur/dispatch-bot/internal/permission"
	"github.com/artur/dispatch-bot/internal/referral"
)

// Store is the identity store.
type Store interface {
	GetByChatID(ctx context.Context, chatID int64) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, u *models.User) (*models.User, error)
	// Update writes all users atomically or returns repository.ErrConflict.
	Update(ctx context.Context, users ...*models.User) error
	GetTotalUsers(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context) (map[models.Role]int64, error)
}

// Sender delivers outbound actions and returns the id of the sent message.
type Sender interface {
	Deliver(ctx context.Context, a Action) (int, error)
}

// MemberQuery reads a user's standing in the managed chat.
type MemberQuery interface {
	GetMember(ctx context.Context, userChatID int64) (permission.Snapshot, error)
}

// Stats records step outcomes and reports usage.
type Stats interface {
	RecordStep(ctx context.Context, userID int64, step, outcome string) error
	GetStepCount(ctx context.Context, userID int64) (int64, error)
	GetTotalSteps(ctx context.Context) (int64, error)
	GetPopularSteps(ctx context.Context, limit int) ([]repository.StepCount, error)
}

// Options tune the engine.
type Options struct {
	ReferralMaxDepth int
}

// Result describes what Handle did with an event.
type Result struct {
	Outcome Outcome
	// Step is the step the event was applied to, if any.
	Step StepKey
	// Reason explains non-fatal outcomes such as retries.
	Reason  error
	Actions []Action
}

// Engine runs dialogs. Events for one chat are processed one at a time;
// different chats run in parallel.
type Engine struct {
	store     Store
	sender    Sender
	members   MemberQuery
	stats     Stats
	referrals *referral.Graph
	locks     *keyedMutex
}

func NewEngine(store Store, sender Sender, members MemberQuery, stats Stats, opts Options) *Engine {
	return &Engine{
		store:     store,
		sender:    sender,
		members:   members,
		stats:     stats,
		referrals: referral.New(store, opts.ReferralMaxDepth),
		locks:     newKeyedMutex(),
	}
}

// turn is the working state of one event.
type turn struct {
	ev      Event
	user    *models.User
	others  []*models.User
	actions []Action
	perms   *permission.EffectivePermissions
}

func (t *turn) reply(text string, choices ...Choice) {
	a := Action{Kind: ActionSend, ChatID: t.user.ChatID, Text: text, Choices: choices}
	if t.ev.Kind == KindCallback && t.user.LastMessageID != 0 {
		a.Kind = ActionEdit
		a.MessageID = t.user.LastMessageID
	}
	t.actions = append(t.actions, a)
}

func (t *turn) notify(chatID int64, text string) {
	t.actions = append(t.actions, Action{Kind: ActionSend, ChatID: chatID, Text: text})
}

func (t *turn) change(u *models.User) {
	t.others = append(t.others, u)
}

func (t *turn) prompt(s *Step) {
	t.reply(s.Prompt, s.buttons()...)
}

// Handle processes one event for ev.ChatID. A returned error is always
// ErrTransient: nothing was committed, or the state was committed and only
// delivery failed.
func (e *Engine) Handle(ctx context.Context, ev Event) (Result, error) {
	l := zerolog.Ctx(ctx).With().
		Str("component", "dialog").
		Int64("chat_id", ev.ChatID).
		Int("update_id", ev.UpdateID).
		Logger()
	ctx = l.WithContext(ctx)

	unlock := e.locks.Lock(ev.ChatID)
	defer unlock()

	var (
		res  Result
		user *models.User
		err  error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		res, user, err = e.process(ctx, ev)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		l.Warn().Int("attempt", attempt).Msg("Concurrent update, retrying from a fresh read")
	}
	if err != nil {
		l.Error().Err(err).Msg("Failed to process event")
		return res, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	l.Debug().
		Str("outcome", string(res.Outcome)).
		Str("step", string(res.Step)).
		AnErr("reason", res.Reason).
		Msg("Event processed")

	if user != nil && res.Outcome != OutcomeDuplicate && res.Outcome != OutcomeIgnored {
		e.record(ctx, user.ID, res)
	}

	if err := e.deliver(ctx, user, res.Actions); err != nil {
		return res, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return res, nil
}

// process computes and commits the next state. It returns the committed user.
func (e *Engine) process(ctx context.Context, ev Event) (Result, *models.User, error) {
	user, err := e.store.GetByChatID(ctx, ev.ChatID)
	if err != nil {
		return Result{}, nil, err
	}
	if user == nil {
		if ev.Kind == KindMembershipChanged {
			return Result{Outcome: OutcomeIgnored}, nil, nil
		}
		user, err = e.store.Create(ctx, &models.User{
			ChatID:    ev.ChatID,
			FirstName: ev.From.FirstName,
			LastName:  ev.From.LastName,
			Role:      models.RoleUser,
			Status:    models.StatusActive,
			Language:  languageFor(ev.From.LanguageCode),
		})
		if err != nil {
			return Result{}, nil, err
		}
		zerolog.Ctx(ctx).Info().Int64("user_id", user.ID).Msg("User created on first contact")
	}

	if !user.Active() {
		return Result{Outcome: OutcomeIgnored}, user, nil
	}
	if ev.UpdateID != 0 && ev.UpdateID <= user.LastUpdateID {
		return Result{Outcome: OutcomeDuplicate}, user, nil
	}

	t := &turn{ev: ev, user: user.Clone()}
	res, err := e.apply(ctx, t)
	if err != nil {
		return res, nil, err
	}
	res.Actions = t.actions

	if !res.Outcome.Mutates() {
		return res, user, nil
	}

	if ev.UpdateID != 0 {
		t.user.LastUpdateID = ev.UpdateID
	}
	if err := e.store.Update(ctx, append([]*models.User{t.user}, t.others...)...); err != nil {
		return Result{}, nil, err
	}
	return res, t.user, nil
}

func (e *Engine) apply(ctx context.Context, t *turn) (Result, error) {
	switch t.ev.Kind {
	case KindCommand:
		return e.command(ctx, t)
	case KindMembershipChanged:
		return e.membershipChanged(ctx, t)
	case KindText, KindCallback:
		if t.user.Dialog == nil {
			t.reply(helpText)
			return Result{Outcome: OutcomeIgnored}, nil
		}
		return e.advance(ctx, t)
	}
	return Result{Outcome: OutcomeIgnored}, nil
}

const helpText = "Commands: /start, /cancel, /role, /status, /dispatch, /stats."

func (e *Engine) command(ctx context.Context, t *turn) (Result, error) {
	switch t.ev.Command {
	case "cancel":
		if t.user.Dialog == nil {
			t.reply("Nothing to cancel.")
			return Result{Outcome: OutcomeAnswered}, nil
		}
		step := StepKey(t.user.Dialog.Step)
		t.user.Dialog = nil
		t.reply("Cancelled.")
		return Result{Outcome: OutcomeAbandoned, Step: step}, nil
	case "stats":
		return e.statistics(ctx, t)
	case "help":
		t.reply(helpText)
		return Result{Outcome: OutcomeAnswered}, nil
	}

	flow, ok := flows[t.ev.Command]
	if !ok {
		t.reply(helpText)
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if !t.user.Role.AtLeast(flow.MinRole) {
		t.reply("You are not allowed to do that.")
		return Result{
			Outcome: OutcomeUnauthorized,
			Reason:  fmt.Errorf("%w: %s needs %s", ErrUnauthorized, flow.Name, flow.MinRole),
		}, nil
	}

	var reason error
	if flow == registrationFlow {
		reason = e.captureReferral(ctx, t)
	}

	// Entering a flow replaces any dialog in progress without its side effects.
	t.user.Dialog = &models.Dialog{Step: string(flow.Entry)}
	t.prompt(steps[flow.Entry])
	return Result{Outcome: OutcomeStarted, Step: flow.Entry, Reason: reason}, nil
}

// captureReferral links the user to the referer named in a start payload.
// Referral problems never block registration; they are reported as Reason.
func (e *Engine) captureReferral(ctx context.Context, t *turn) error {
	id, ok := parseReferral(t.ev.Payload)
	if !ok {
		return nil
	}
	err := e.referrals.SetReferer(ctx, t.user, id)
	switch {
	case err == nil:
		zerolog.Ctx(ctx).Info().Int64("referer_id", id).Msg("Referer captured")
		return nil
	case errors.Is(err, referral.ErrAlreadySet):
		return nil
	case errors.Is(err, referral.ErrUnknownReferer):
		return fmt.Errorf("%w: %w", ErrUnresolvedReference, err)
	case errors.Is(err, referral.ErrSelfReference), errors.Is(err, referral.ErrCycleDetected):
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return err
}

// parseReferral accepts "ref_<id>" or a bare id.
func parseReferral(payload string) (int64, bool) {
	payload = strings.TrimPrefix(strings.TrimSpace(payload), "ref_")
	if payload == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (e *Engine) advance(ctx context.Context, t *turn) (Result, error) {
	key := StepKey(t.user.Dialog.Step)
	step, ok := steps[key]
	if !ok {
		// A step removed from the table cannot make progress.
		zerolog.Ctx(ctx).Warn().Str("step", string(key)).Msg("Unknown step, abandoning dialog")
		t.user.Dialog = nil
		t.reply(helpText)
		return Result{Outcome: OutcomeAbandoned, Step: key}, nil
	}

	input, err := step.accept(t.ev)
	if err == nil && step.Gate != permission.ActionNone {
		err = e.authorize(ctx, t, step.Gate)
	}
	if err == nil {
		var next StepKey
		next, err = step.Submit(ctx, e, t, input)
		if err == nil {
			return e.transition(t, step, next), nil
		}
	}

	outcome := outcomeFor(err)
	if outcome == "" {
		return Result{}, err
	}
	t.actions = nil
	t.others = nil
	t.reply(failureText(outcome)+"\n"+step.Prompt, step.buttons()...)
	return Result{Outcome: outcome, Step: key, Reason: err}, nil
}

func (e *Engine) transition(t *turn, from *Step, next StepKey) Result {
	if next == Terminal {
		t.user.Dialog = nil
		return Result{Outcome: OutcomeCompleted, Step: from.Key}
	}
	t.user.Dialog.Step = string(next)
	t.prompt(steps[next])
	return Result{Outcome: OutcomeAdvanced, Step: from.Key}
}

func failureText(o Outcome) string {
	switch o {
	case OutcomeUnresolved:
		return "User not found."
	case OutcomeUnauthorized:
		return "You are not allowed to do that."
	}
	return "That does not look right, please try again."
}

// authorize resolves fresh permissions for the acting user and checks action.
func (e *Engine) authorize(ctx context.Context, t *turn, action permission.Action) error {
	perms, err := e.permissions(ctx, t)
	if err != nil {
		return err
	}
	if !perms.Allows(action) {
		return fmt.Errorf("%w: %s (chat %s, bot %s)", ErrUnauthorized, action, perms.Chat, perms.Bot)
	}
	return nil
}

func (e *Engine) permissions(ctx context.Context, t *turn) (permission.EffectivePermissions, error) {
	if t.perms != nil {
		return *t.perms, nil
	}
	snap := permission.NoMembership
	if e.members != nil {
		var err error
		snap, err = e.members.GetMember(ctx, t.user.ChatID)
		if err != nil {
			return permission.EffectivePermissions{}, fmt.Errorf("get member: %w", err)
		}
	}
	perms := permission.ForUser(t.user, snap)
	t.perms = &perms
	return perms, nil
}

func (e *Engine) membershipChanged(ctx context.Context, t *turn) (Result, error) {
	if t.ev.Member == nil || t.user.Dialog == nil {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	key := StepKey(t.user.Dialog.Step)
	step, ok := steps[key]
	if !ok || step.Flow.Action == permission.ActionNone {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	perms := permission.ForUser(t.user, *t.ev.Member)
	if perms.Allows(step.Flow.Action) {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	zerolog.Ctx(ctx).Info().
		Str("step", string(key)).
		Str("member_status", string(t.ev.Member.Status)).
		Msg("Membership no longer allows dialog, abandoning")

	t.user.Dialog = nil
	if t.user.LastMessageID != 0 {
		t.actions = append(t.actions, Action{
			Kind:      ActionEdit,
			ChatID:    t.user.ChatID,
			MessageID: t.user.LastMessageID,
			Text:      "Cancelled: your permissions in the group changed.",
		})
	}
	return Result{
		Outcome: OutcomeAbandoned,
		Step:    key,
		Reason:  fmt.Errorf("%w: %s", ErrUnauthorized, step.Flow.Action),
	}, nil
}

func (e *Engine) statistics(ctx context.Context, t *turn) (Result, error) {
	if err := e.authorize(ctx, t, permission.ActionViewStatistics); err != nil {
		if outcomeFor(err) == "" {
			return Result{}, err
		}
		t.reply("You are not allowed to do that.")
		return Result{Outcome: OutcomeUnauthorized, Reason: err}, nil
	}

	total, err := e.store.GetTotalUsers(ctx)
	if err != nil {
		return Result{}, err
	}
	counts, err := e.store.CountByRole(ctx)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Users: %d\n\nActive users by role:\n", total)
	for _, r := range models.Roles {
		fmt.Fprintf(&b, "%s: %d\n", r, counts[r])
	}

	if e.stats != nil {
		steps, err := e.stats.GetTotalSteps(ctx)
		if err != nil {
			return Result{}, err
		}
		own, err := e.stats.GetStepCount(ctx, t.user.ID)
		if err != nil {
			return Result{}, err
		}
		fmt.Fprintf(&b, "\nSteps processed: %d (yours: %d)\n", steps, own)

		popular, err := e.stats.GetPopularSteps(ctx, 5)
		if err != nil {
			return Result{}, err
		}
		if len(popular) > 0 {
			b.WriteString("\nMost used steps:\n")
			for _, s := range popular {
				fmt.Fprintf(&b, "%s: %d\n", s.Step, s.Count)
			}
		}
	}

	t.reply(strings.TrimRight(b.String(), "\n"))
	return Result{Outcome: OutcomeAnswered}, nil
}

// Reset clears a pending dialog without running any step side effect. It is
// the only way to force a stuck dialog closed. A dialog that moved at or after
// idleSince is left alone.
func (e *Engine) Reset(ctx context.Context, chatID int64, idleSince time.Time) (bool, error) {
	unlock := e.locks.Lock(chatID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		user, err := e.store.GetByChatID(ctx, chatID)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		if user == nil || user.Dialog == nil {
			return false, nil
		}
		if !user.UpdatedAt.Before(idleSince) {
			return false, nil
		}

		step := user.Dialog.Step
		next := user.Clone()
		next.Dialog = nil
		err = e.store.Update(ctx, next)
		if errors.Is(err, repository.ErrConflict) && attempt < 2 {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrTransient, err)
		}

		e.record(ctx, user.ID, Result{Outcome: OutcomeAbandoned, Step: StepKey(step)})
		zerolog.Ctx(ctx).Info().Int64("chat_id", chatID).Str("step", step).Msg("Dialog reset")
		return true, nil
	}
}

// deliver sends actions after the state is committed and remembers the id of
// the last message sent to the acting user.
func (e *Engine) deliver(ctx context.Context, user *models.User, actions []Action) error {
	if e.sender == nil || len(actions) == 0 {
		return nil
	}

	var errs []error
	lastID := 0
	for _, a := range actions {
		id, err := e.sender.Deliver(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s to %d: %w", a.Kind, a.ChatID, err))
			continue
		}
		if user != nil && a.ChatID == user.ChatID && id != 0 {
			lastID = id
		}
	}

	if user != nil && lastID != 0 && lastID != user.LastMessageID {
		next := user.Clone()
		next.LastMessageID = lastID
		if err := e.store.Update(ctx, next); err != nil {
			errs = append(errs, fmt.Errorf("remember message id: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) record(ctx context.Context, userID int64, res Result) {
	if e.stats == nil || res.Step == "" {
		return
	}
	if err := e.stats.RecordStep(ctx, userID, string(res.Step), string(res.Outcome)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to record step")
	}
}

func languageFor(code string) models.Language {
	if strings.HasPrefix(code, "ru") {
		return models.LanguageRu
	}
	return models.LanguageUz
}
