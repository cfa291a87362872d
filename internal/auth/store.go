package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Participants() ParticipantStore
	Surveys() SurveyStore
	Activities() ActivityStore

	// WithinTx runs fn against a store bound to a single transaction. The
	// transaction commits only if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore manages system users and their system roles.
type UserStore interface {
	Find(ctx context.Context, id int64) (SystemUser, error)
	FindByIdentifier(ctx context.Context, identifier, source string) (SystemUser, error)
	Create(ctx context.Context, identifier, source string) (SystemUser, error)
	Reactivate(ctx context.Context, id int64) (SystemUser, error)
	Deactivate(ctx context.Context, id int64) error
	AddSystemRole(ctx context.Context, userID, roleID int64) error
}

// ParticipantStore manages project participation rows.
type ParticipantStore interface {
	// ProjectParticipant returns nil, nil when the user is not a participant.
	ProjectParticipant(ctx context.Context, projectID, systemUserID int64) (*ProjectParticipant, error)
	// SurveyParticipant resolves the survey's project first; nil, nil when absent.
	SurveyParticipant(ctx context.Context, surveyID, systemUserID int64) (*ProjectParticipant, error)
	List(ctx context.Context, projectID int64) ([]ProjectParticipant, error)
	Add(ctx context.Context, projectID, systemUserID int64, role string, actor int64) error
	// DeleteRoles locks the project before deleting so concurrent role
	// changes on the same project serialize.
	DeleteRoles(ctx context.Context, projectID, systemUserID int64) (int64, error)
	// DeleteForUser drops every participation of the user and returns the
	// affected project ids in ascending order.
	DeleteForUser(ctx context.Context, systemUserID int64) ([]int64, error)
	CountWithRole(ctx context.Context, projectID int64, role string) (int, error)
}

// SurveyStore reads surveys.
type SurveyStore interface {
	Find(ctx context.Context, id int64) (Survey, error)
}

// ActivityStore manages administrative activities.
type ActivityStore interface {
	Create(ctx context.Context, a *Activity) error
	Find(ctx context.Context, id int64) (Activity, error)
	ListByStatus(ctx context.Context, status ActivityStatus) ([]Activity, error)
	// UpdateStatus transitions from -> to; ErrConflict when the row is not in from.
	UpdateStatus(ctx context.Context, id int64, from, to ActivityStatus, actor int64) error
}
