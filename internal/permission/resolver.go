package permission

import "github.com/artur/dispatch-bot/internal/database/models"

// MemberStatus is a chat member's standing as reported by the platform.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// Snapshot is a point-in-time read of one chat member. Flags holds only the
// boolean capability flags that were present and true.
type Snapshot struct {
	Status      MemberStatus
	Flags       Capability
	IsAnonymous bool
}

// NoMembership is the snapshot used when no managed chat is configured.
var NoMembership = Snapshot{Status: StatusLeft}

// EffectivePermissions is the resolved capability set for one user and
// snapshot. Chat and Bot are evaluated independently; Allows combines them
// according to the action's scope.
type EffectivePermissions struct {
	Status    MemberStatus
	Chat      Capability
	Bot       Capability
	Anonymous bool
}

// Full is the capability set granted to a chat creator.
var Full = EffectivePermissions{
	Status: StatusCreator,
	Chat:   ChatCaps,
	Bot:    AllCaps,
}

// overlay maps bot roles to capabilities that hold regardless of chat standing.
var overlay = map[models.Role]Capability{
	models.RoleUser:          0,
	models.RoleDriver:        0,
	models.RolePartner:       CapViewStatistics,
	models.RoleOperator:      CapDispatch | CapViewStatistics | CapViewMembers,
	models.RoleAdministrator: CapDispatch | CapViewStatistics | CapViewMembers | CapViewEventLog | CapPromoteMembers | CapRestrictMembers,
	models.RoleOwner:         AllCaps,
	models.RoleDeveloper:     AllCaps,
}

// RoleOverlay returns the bot-scoped capabilities of a role.
func RoleOverlay(role models.Role) Capability {
	return overlay[role]
}

// Resolve folds a role and a membership snapshot into effective permissions.
// It is pure: identical inputs always give identical output.
func Resolve(role models.Role, snap Snapshot) EffectivePermissions {
	if snap.Status == StatusCreator {
		return Full
	}

	eff := EffectivePermissions{
		Status: snap.Status,
		Bot:    RoleOverlay(role),
	}
	flags := snap.Flags & FlagCaps

	switch snap.Status {
	case StatusAdministrator:
		eff.Chat = flags
		// can_manage_chat is implied by any other administrator privilege.
		if flags.Any(AdminCaps &^ CapManageChat) {
			eff.Chat |= CapManageChat
		}
		if eff.Chat.Has(CapManageChat) {
			eff.Chat |= ViewCaps
		}
		eff.Anonymous = snap.IsAnonymous
	case StatusRestricted:
		eff.Chat = flags & SendCaps
	case StatusMember:
		eff.Chat = flags & SendCaps
	default:
		// left, kicked and unknown statuses hold no chat-scoped capability.
		eff.Chat = 0
	}

	return eff
}

// ForUser resolves permissions for a stored user. Inactive users get nothing.
func ForUser(u *models.User, snap Snapshot) EffectivePermissions {
	if u == nil || !u.Active() {
		return EffectivePermissions{Status: snap.Status}
	}
	return Resolve(u.Role, snap)
}
