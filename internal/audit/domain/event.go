package domain

import (
	"time"

	"jauth/internal/principal"
)

// Action names an authentication event.
type Action string

const (
	ActionRegistered     Action = "registered"
	ActionLoginSuccess   Action = "login_success"
	ActionLoginFailure   Action = "login_failure"
	ActionLogout         Action = "logout"
	ActionSessionKilled  Action = "session_killed"
	ActionProjectCreated Action = "project_created"
	ActionUserDisabled   Action = "user_disabled"
	ActionUserDeleted    Action = "user_deleted"
	ActionProfileUpdated Action = "profile_updated"
	ActionAccountDeleted Action = "account_deleted"
	ActionProjectUpdated Action = "project_updated"
	ActionProjectDeleted Action = "project_deleted"
)

// Event is one audited authentication event. PrincipalID is empty for failed logins of unknown emails.
type Event struct {
	ID          string
	Tier        principal.Tier
	ProjectID   string
	PrincipalID string
	Action      Action
	IP          string
	Metadata    string
	CreatedAt   time.Time
}
