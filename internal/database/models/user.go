package models

import "time"

// Role is the bot-platform role of a user, ordered by increasing privilege.
type Role string

const (
	RoleUser          Role = "user"
	RoleDriver        Role = "driver"
	RoleOperator      Role = "operator"
	RoleAdministrator Role = "administrator"
	RoleOwner         Role = "owner"
	RolePartner       Role = "partner"
	RoleDeveloper     Role = "developer"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{
	RoleUser,
	RoleDriver,
	RoleOperator,
	RoleAdministrator,
	RoleOwner,
	RolePartner,
	RoleDeveloper,
}

// Rank returns the privilege position of the role, or -1 for unknown roles.
func (r Role) Rank() int {
	for i, role := range Roles {
		if role == r {
			return i
		}
	}
	return -1
}

func (r Role) Valid() bool { return r.Rank() >= 0 }

// AtLeast reports whether r is as privileged as other.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

// Status marks whether a user takes part in dialogs at all.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool { return s == StatusActive || s == StatusInactive }

// Language is the rendering locale of a user.
type Language string

const (
	LanguageUz Language = "uz"
	LanguageRu Language = "ru"
)

func (l Language) Valid() bool { return l == LanguageUz || l == LanguageRu }

// Dialog is the pending conversation of a user. A user either has all of it
// or none of it.
type Dialog struct {
	Step     string
	Value    string
	TargetID int64 // 0 when the step has no target user
}

// User represents a bot user stored in database
type User struct {
	ID            int64
	ChatID        int64
	FirstName     string
	LastName      string
	Phone         string
	RefererID     int64 // 0 when nobody invited the user
	Role          Role
	Status        Status
	Language      Language
	Dialog        *Dialog
	LastMessageID int
	LastUpdateID  int
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (u *User) Active() bool { return u.Status == StatusActive }

func (u *User) HasReferer() bool { return u.RefererID != 0 }

// Clone returns a deep copy safe to mutate.
func (u *User) Clone() *User {
	c := *u
	if u.Dialog != nil {
		d := *u.Dialog
		c.Dialog = &d
	}
	return &c
}
