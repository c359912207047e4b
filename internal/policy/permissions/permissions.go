package permissions

import api "github.com/OvyFlash/telegram-bot-api"

// Role is a chat member status as reported by the platform.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// IsElevated is true for roles exempt from moderation.
func IsElevated(role Role) bool {
	return role == RoleCreator || role == RoleAdministrator
}

func RoleOf(member *api.ChatMember) Role {
	if member == nil {
		return ""
	}
	return Role(member.Status)
}

// CanModerate reports whether a member holds the rights the bot needs to enforce penalties.
func CanModerate(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && member.CanDeleteMessages && member.CanRestrictMembers
}
