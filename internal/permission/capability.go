// Package permission resolves what a user may do from their bot role and a
// point-in-time snapshot of their standing in the managed chat.
package permission

import "strings"

// Capability is a set of permission bits. Unset bits are denied.
type Capability uint64

const (
	// Administrative chat flags.
	CapChangeInfo Capability = 1 << iota
	CapPostMessages
	CapEditMessages
	CapDeleteMessages
	CapRestrictMembers
	CapPromoteMembers
	CapInviteUsers
	CapPinMessages
	CapManageVoiceChats
	CapManageChat

	// Send/interact flags.
	CapSendMessages
	CapSendMedia
	CapSendPolls
	CapSendOther
	CapAddWebPagePreviews

	// View-only capabilities implied by CapManageChat.
	CapViewEventLog
	CapViewStatistics
	CapViewMembers
	CapViewAnonymousAdmins
	CapIgnoreSlowMode

	// Bot-only capabilities, granted by role overlay.
	CapDispatch

	capEnd
)

const (
	// AdminCaps are the administrator privileges of a chat member.
	AdminCaps = CapChangeInfo | CapPostMessages | CapEditMessages | CapDeleteMessages |
		CapRestrictMembers | CapPromoteMembers | CapInviteUsers | CapPinMessages |
		CapManageVoiceChats | CapManageChat

	// SendCaps are the send/interact flags any member may carry.
	SendCaps = CapSendMessages | CapSendMedia | CapSendPolls | CapSendOther | CapAddWebPagePreviews

	// ViewCaps are read-only capabilities granted through CapManageChat.
	ViewCaps = CapViewEventLog | CapViewStatistics | CapViewMembers | CapViewAnonymousAdmins | CapIgnoreSlowMode

	// ChatCaps is everything a chat membership can grant.
	ChatCaps = AdminCaps | SendCaps | ViewCaps

	// FlagCaps are the bits a membership snapshot may carry directly.
	FlagCaps = AdminCaps | SendCaps

	// AllCaps is the full capability set.
	AllCaps = capEnd - 1
)

var capNames = map[Capability]string{
	CapChangeInfo:          "change_info",
	CapPostMessages:        "post_messages",
	CapEditMessages:        "edit_messages",
	CapDeleteMessages:      "delete_messages",
	CapRestrictMembers:     "restrict_members",
	CapPromoteMembers:      "promote_members",
	CapInviteUsers:         "invite_users",
	CapPinMessages:         "pin_messages",
	CapManageVoiceChats:    "manage_voice_chats",
	CapManageChat:          "manage_chat",
	CapSendMessages:        "send_messages",
	CapSendMedia:           "send_media_messages",
	CapSendPolls:           "send_polls",
	CapSendOther:           "send_other_messages",
	CapAddWebPagePreviews:  "add_web_page_previews",
	CapViewEventLog:        "view_event_log",
	CapViewStatistics:      "view_statistics",
	CapViewMembers:         "view_members",
	CapViewAnonymousAdmins: "view_anonymous_admins",
	CapIgnoreSlowMode:      "ignore_slow_mode",
	CapDispatch:            "dispatch",
}

// Has reports whether every bit of want is set.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Any reports whether at least one bit of want is set.
func (c Capability) Any(want Capability) bool {
	return c&want != 0
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for bit := Capability(1); bit < capEnd; bit <<= 1 {
		if c&bit != 0 {
			names = append(names, capNames[bit])
		}
	}
	return strings.Join(names, ",")
}
