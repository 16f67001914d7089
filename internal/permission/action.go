package permission

import "github.com/artur/dispatch-bot/internal/database/models"

// Action is something a user asks the bot to do on someone's behalf.
type Action int

const (
	ActionNone Action = iota
	ActionChangeRole
	ActionChangeStatus
	ActionDispatch
	ActionViewStatistics
)

// Scope decides how chat and bot capabilities combine for an action.
type Scope int

const (
	// ScopeChat actions need the capability from both the chat and the role.
	ScopeChat Scope = iota + 1
	// ScopeBot actions need it from either.
	ScopeBot
)

// Rule is one row of the authorization table.
type Rule struct {
	Scope    Scope
	Requires Capability
}

var rules = map[Action]Rule{
	ActionChangeRole:     {Scope: ScopeChat, Requires: CapPromoteMembers},
	ActionChangeStatus:   {Scope: ScopeChat, Requires: CapRestrictMembers},
	ActionDispatch:       {Scope: ScopeBot, Requires: CapDispatch},
	ActionViewStatistics: {Scope: ScopeBot, Requires: CapViewStatistics},
}

// RuleFor returns the authorization rule of an action.
func RuleFor(a Action) (Rule, bool) {
	r, ok := rules[a]
	return r, ok
}

// Allows reports whether the permissions authorize the action.
func (p EffectivePermissions) Allows(a Action) bool {
	if a == ActionNone {
		return true
	}
	rule, ok := rules[a]
	if !ok {
		return false
	}
	switch rule.Scope {
	case ScopeChat:
		return (p.Chat & p.Bot).Has(rule.Requires)
	case ScopeBot:
		return (p.Chat | p.Bot).Has(rule.Requires)
	}
	return false
}

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionChangeRole:
		return "change_role"
	case ActionChangeStatus:
		return "change_status"
	case ActionDispatch:
		return "dispatch"
	case ActionViewStatistics:
		return "view_statistics"
	}
	return "unknown"
}

// CanAssignRole reports whether actor may move target to role. An actor must
// outrank both the target's current role and the requested one, and may never
// change their own role.
func CanAssignRole(actor, target *models.User, role models.Role) bool {
	if actor == nil || target == nil || actor.ID == target.ID {
		return false
	}
	if !actor.Active() || !role.Valid() {
		return false
	}
	return actor.Role.Rank() > target.Role.Rank() && actor.Role.Rank() > role.Rank()
}

// CanChangeStatus reports whether actor may activate or deactivate target.
func CanChangeStatus(actor, target *models.User) bool {
	if actor == nil || target == nil || actor.ID == target.ID {
		return false
	}
	return actor.Active() && actor.Role.Rank() > target.Role.Rank()
}
