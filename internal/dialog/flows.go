package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/artur/dispatch-bot/internal/database/models"
	"github.com/artur/dispatch-bot/internal/permission"
)

const (
	StepCollectPhone     StepKey = "collect_phone"
	StepCollectName      StepKey = "collect_name"
	StepChooseLanguage   StepKey = "choose_language"
	StepRolePickTarget   StepKey = "role_pick_target"
	StepRolePickRole     StepKey = "role_pick_role"
	StepStatusPickTarget StepKey = "status_pick_target"
	StepStatusPickValue  StepKey = "status_pick_value"
	StepDispatchDriver   StepKey = "dispatch_pick_driver"
	StepDispatchCompose  StepKey = "dispatch_compose"
	StepDispatchConfirm  StepKey = "dispatch_confirm"
)

const (
	maxNameLength     = 64
	maxDispatchLength = 1000
)

var (
	registrationFlow = &Flow{
		Name:    "registration",
		Command: "start",
		MinRole: models.RoleUser,
		Entry:   StepCollectPhone,
	}
	roleFlow = &Flow{
		Name:    "role",
		Command: "role",
		MinRole: models.RoleAdministrator,
		Action:  permission.ActionChangeRole,
		Entry:   StepRolePickTarget,
	}
	statusFlow = &Flow{
		Name:    "status",
		Command: "status",
		MinRole: models.RoleAdministrator,
		Action:  permission.ActionChangeStatus,
		Entry:   StepStatusPickTarget,
	}
	dispatchFlow = &Flow{
		Name:    "dispatch",
		Command: "dispatch",
		MinRole: models.RoleOperator,
		Action:  permission.ActionDispatch,
		Entry:   StepDispatchDriver,
	}

	flows = map[string]*Flow{
		registrationFlow.Command: registrationFlow,
		roleFlow.Command:         roleFlow,
		statusFlow.Command:       statusFlow,
		dispatchFlow.Command:     dispatchFlow,
	}

	steps = map[StepKey]*Step{}
)

func init() {
	roleChoices := make([]Choice, 0, len(models.Roles))
	for _, r := range models.Roles {
		roleChoices = append(roleChoices, Choice{Label: string(r), Data: string(r)})
	}

	register(
		&Step{
			Key:    StepCollectPhone,
			Flow:   registrationFlow,
			Shape:  ShapeText,
			Prompt: "Send your phone number, for example +998901234567.",
			Submit: submitPhone,
		},
		&Step{
			Key:    StepCollectName,
			Flow:   registrationFlow,
			Shape:  ShapeText,
			Prompt: "What is your name?",
			Submit: submitName,
		},
		&Step{
			Key:   StepChooseLanguage,
			Flow:  registrationFlow,
			Shape: ShapeChoice,
			Choices: []Choice{
				{Label: "O'zbekcha", Data: string(models.LanguageUz)},
				{Label: "Русский", Data: string(models.LanguageRu)},
			},
			Prompt: "Choose your language.",
			Submit: submitLanguage,
		},
		&Step{
			Key:    StepRolePickTarget,
			Flow:   roleFlow,
			Shape:  ShapeReference,
			Prompt: "Send the id of the user whose role you want to change.",
			Submit: pickTarget(StepRolePickRole, nil),
		},
		&Step{
			Key:     StepRolePickRole,
			Flow:    roleFlow,
			Shape:   ShapeChoice,
			Choices: roleChoices,
			Gate:    permission.ActionChangeRole,
			Prompt:  "Choose the new role.",
			Submit:  submitRole,
		},
		&Step{
			Key:    StepStatusPickTarget,
			Flow:   statusFlow,
			Shape:  ShapeReference,
			Prompt: "Send the id of the user to activate or deactivate.",
			Submit: pickTarget(StepStatusPickValue, nil),
		},
		&Step{
			Key:   StepStatusPickValue,
			Flow:  statusFlow,
			Shape: ShapeChoice,
			Choices: []Choice{
				{Label: "Active", Data: string(models.StatusActive)},
				{Label: "Inactive", Data: string(models.StatusInactive)},
			},
			Gate:   permission.ActionChangeStatus,
			Prompt: "Choose the new status.",
			Submit: submitStatus,
		},
		&Step{
			Key:    StepDispatchDriver,
			Flow:   dispatchFlow,
			Shape:  ShapeReference,
			Prompt: "Send the id of the driver.",
			Submit: pickTarget(StepDispatchCompose, requireDriver),
		},
		&Step{
			Key:    StepDispatchCompose,
			Flow:   dispatchFlow,
			Shape:  ShapeText,
			Prompt: "Write the order for the driver.",
			Submit: submitDispatchText,
		},
		&Step{
			Key:   StepDispatchConfirm,
			Flow:  dispatchFlow,
			Shape: ShapeChoice,
			Choices: []Choice{
				{Label: "Send", Data: "yes"},
				{Label: "Cancel", Data: "no"},
			},
			Gate:   permission.ActionDispatch,
			Prompt: "Send this order?",
			Submit: submitDispatch,
		},
	)
}

func register(ss ...*Step) {
	for _, s := range ss {
		if _, dup := steps[s.Key]; dup {
			panic("dialog: duplicate step " + string(s.Key))
		}
		steps[s.Key] = s
	}
}

// StepFor returns the definition of a step key.
func StepFor(key StepKey) (*Step, bool) {
	s, ok := steps[key]
	return s, ok
}

// registration accumulates answers until the last step commits them.
type registration struct {
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func loadRegistration(d *models.Dialog) registration {
	var r registration
	if d != nil && d.Value != "" {
		_ = json.Unmarshal([]byte(d.Value), &r)
	}
	return r
}

func (r registration) store(d *models.Dialog) {
	b, _ := json.Marshal(r)
	d.Value = string(b)
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// normalizePhone strips separators and returns the number with a leading +.
func normalizePhone(s string) (string, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, s)
	if !phonePattern.MatchString(s) {
		return "", false
	}
	return "+" + strings.TrimPrefix(s, "+"), true
}

func submitPhone(_ context.Context, _ *Engine, t *turn, input string) (StepKey, error) {
	phone, ok := normalizePhone(input)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a phone number", ErrValidationFailed, input)
	}
	r := loadRegistration(t.user.Dialog)
	r.Phone = phone
	r.store(t.user.Dialog)
	return StepCollectName, nil
}

func submitName(_ context.Context, _ *Engine, t *turn, input string) (StepKey, error) {
	if n := utf8.RuneCountInString(input); n > maxNameLength {
		return "", fmt.Errorf("%w: name is %d characters long", ErrValidationFailed, n)
	}
	first, last, _ := strings.Cut(input, " ")
	r := loadRegistration(t.user.Dialog)
	r.FirstName = first
	r.LastName = strings.TrimSpace(last)
	r.store(t.user.Dialog)
	return StepChooseLanguage, nil
}

func submitLanguage(_ context.Context, _ *Engine, t *turn, input string) (StepKey, error) {
	r := loadRegistration(t.user.Dialog)
	if r.Phone == "" || r.FirstName == "" {
		return "", fmt.Errorf("%w: registration answers missing", ErrValidationFailed)
	}
	t.user.Phone = r.Phone
	t.user.FirstName = r.FirstName
	t.user.LastName = r.LastName
	t.user.Language = models.Language(input)
	t.reply("Registration complete. Thank you, " + r.FirstName + "!")
	return Terminal, nil
}

// pickTarget resolves a user id and remembers it as the dialog target.
func pickTarget(next StepKey, check func(target *models.User) error) Submit {
	return func(ctx context.Context, e *Engine, t *turn, input string) (StepKey, error) {
		id, _ := strconv.ParseInt(input, 10, 64)
		target, err := e.store.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		if target == nil {
			return "", fmt.Errorf("%w: user %d", ErrUnresolvedReference, id)
		}
		if target.ID == t.user.ID {
			return "", fmt.Errorf("%w: cannot target yourself", ErrValidationFailed)
		}
		if check != nil {
			if err := check(target); err != nil {
				return "", err
			}
		}
		t.user.Dialog.TargetID = target.ID
		return next, nil
	}
}

func requireDriver(target *models.User) error {
	if target.Role != models.RoleDriver || !target.Active() {
		return fmt.Errorf("%w: user %d is not an active driver", ErrValidationFailed, target.ID)
	}
	return nil
}

// loadTarget re-reads the dialog target so side effects apply to fresh data.
func loadTarget(ctx context.Context, e *Engine, t *turn) (*models.User, error) {
	id := t.user.Dialog.TargetID
	if id == 0 {
		return nil, fmt.Errorf("%w: no target selected", ErrUnresolvedReference)
	}
	target, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: user %d", ErrUnresolvedReference, id)
	}
	return target, nil
}

func submitRole(ctx context.Context, e *Engine, t *turn, input string) (StepKey, error) {
	target, err := loadTarget(ctx, e, t)
	if err != nil {
		return "", err
	}
	role := models.Role(input)
	if !permission.CanAssignRole(t.user, target, role) {
		return "", fmt.Errorf("%w: %s cannot make user %d %s", ErrUnauthorized, t.user.Role, target.ID, role)
	}

	target.Role = role
	t.change(target)
	t.notify(target.ChatID, "Your role is now "+string(role)+".")
	t.reply(fmt.Sprintf("User %d is now %s.", target.ID, role))
	return Terminal, nil
}

func submitStatus(ctx context.Context, e *Engine, t *turn, input string) (StepKey, error) {
	target, err := loadTarget(ctx, e, t)
	if err != nil {
		return "", err
	}
	if !permission.CanChangeStatus(t.user, target) {
		return "", fmt.Errorf("%w: %s cannot change status of user %d", ErrUnauthorized, t.user.Role, target.ID)
	}

	target.Status = models.Status(input)
	if target.Status == models.StatusInactive {
		// inactive users cannot progress a dialog
		target.Dialog = nil
	}
	t.change(target)
	t.reply(fmt.Sprintf("User %d is now %s.", target.ID, target.Status))
	return Terminal, nil
}

func submitDispatchText(_ context.Context, _ *Engine, t *turn, input string) (StepKey, error) {
	if n := utf8.RuneCountInString(input); n > maxDispatchLength {
		return "", fmt.Errorf("%w: order is %d characters long", ErrValidationFailed, n)
	}
	t.user.Dialog.Value = input
	return StepDispatchConfirm, nil
}

func submitDispatch(ctx context.Context, e *Engine, t *turn, input string) (StepKey, error) {
	if input != "yes" {
		t.reply("Order cancelled.")
		return Terminal, nil
	}

	driver, err := loadTarget(ctx, e, t)
	if err != nil {
		return "", err
	}
	if err := requireDriver(driver); err != nil {
		return "", err
	}

	t.notify(driver.ChatID, "New order from "+displayName(t.user)+":\n"+t.user.Dialog.Value)
	t.reply(fmt.Sprintf("Order sent to driver %d.", driver.ID))
	return Terminal, nil
}

func displayName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "#" + strconv.FormatInt(u.ID, 10)
	}
	return name
}
