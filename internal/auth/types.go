package auth

import (
	"slices"
	"time"
)

// System roles.
const (
	SystemRoleAdmin     = "System Administrator"
	SystemRoleDataAdmin = "Data Administrator"
	SystemRoleCreator   = "Creator"
)

// Project roles.
const (
	ProjectRoleLead   = "Project Lead"
	ProjectRoleEditor = "Editor"
	ProjectRoleViewer = "Viewer"
)

// Project permissions.
const (
	ProjectPermissionCoordinator  = "Coordinator"
	ProjectPermissionCollaborator = "Collaborator"
	ProjectPermissionObserver     = "Observer"
)

// Identity sources as stored on system users.
const (
	IdentitySourceIDIR          = "IDIR"
	IdentitySourceBCeIDBasic    = "BCEIDBASIC"
	IdentitySourceBCeIDBusiness = "BCEIDBUSINESS"
	IdentitySourceSystem        = "SYSTEM"
	IdentitySourceDatabase      = "DATABASE"
)

// SystemUser is the internal record behind an identity-provider login.
type SystemUser struct {
	ID             int64      `json:"system_user_id"`
	UserIdentifier string     `json:"user_identifier"`
	IdentitySource string     `json:"identity_source"`
	RecordEndDate  *time.Time `json:"record_end_date"`
	RoleIDs        []int64    `json:"role_ids"`
	RoleNames      []string   `json:"role_names"`
}

// Active reports whether the user has not been deactivated.
func (u SystemUser) Active() bool {
	return u.RecordEndDate == nil
}

// HasSystemRole reports whether the user holds any of the named system roles.
func (u SystemUser) HasSystemRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(u.RoleNames, r) {
			return true
		}
	}
	return false
}

// ProjectParticipant is a user's membership in one project.
type ProjectParticipant struct {
	ProjectID      int64    `json:"project_id"`
	SystemUserID   int64    `json:"system_user_id"`
	UserIdentifier string   `json:"user_identifier,omitempty"`
	RoleIDs        []int64  `json:"project_role_ids"`
	RoleNames      []string `json:"project_role_names"`
	Permissions    []string `json:"project_permissions"`
}

// Survey is the minimal survey projection needed to scope permissions.
type Survey struct {
	ID        int64  `json:"survey_id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

// ActivityStatus is the lifecycle state of an administrative activity.
type ActivityStatus string

const (
	ActivityPending  ActivityStatus = "Pending"
	ActivityActioned ActivityStatus = "Actioned"
	ActivityRejected ActivityStatus = "Rejected"
)

// ActivityTypeAccessRequest is the only activity type raised by users today.
const ActivityTypeAccessRequest = "System Access"

// Activity is an administrative request awaiting an administrator's decision.
type Activity struct {
	ID              int64          `json:"id"`
	Type            string         `json:"type"`
	Status          ActivityStatus `json:"status"`
	ReporterID      int64          `json:"reporter_system_user_id"`
	Identifier      string         `json:"user_identifier"`
	IdentitySource  string         `json:"identity_source"`
	RequestedRoleID int64          `json:"requested_role_id"`
	Reason          string         `json:"reason,omitempty"`
	Email           string         `json:"email,omitempty"`
	ActionedBy      *int64         `json:"actioned_by,omitempty"`
	CreatedAt       time.Time      `json:"create_date"`
}
