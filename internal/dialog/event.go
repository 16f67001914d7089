package dialog

import "github.com/artur/dispatch-bot/internal/permission"

// Kind is the shape of an inbound event.
type Kind string

const (
	KindText              Kind = "text"
	KindCommand           Kind = "command"
	KindCallback          Kind = "callback"
	KindMembershipChanged Kind = "membership_changed"
)

// Profile is what the platform tells about the sender.
type Profile struct {
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

// Event is a normalized inbound update for one user.
type Event struct {
	UpdateID int
	ChatID   int64
	Kind     Kind
	// Command is the command name without slash, for KindCommand.
	Command string
	// Payload is the text, command arguments or callback data.
	Payload string
	// MessageID is the bot message a callback was pressed on.
	MessageID int
	From      Profile
	// Member is the new standing for KindMembershipChanged.
	Member *permission.Snapshot
}

// ActionKind is what the Dispatcher should do with an outbound action.
type ActionKind string

const (
	ActionSend ActionKind = "send"
	ActionEdit ActionKind = "edit"
)

// Choice is one button of an enumerated step.
type Choice struct {
	Label string
	Data  string
}

// Action is an outbound message or edit.
type Action struct {
	Kind      ActionKind
	ChatID    int64
	MessageID int
	Text      string
	Choices   []Choice
}
