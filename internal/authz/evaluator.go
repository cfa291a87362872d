package authz

import (
	"context"
	"errors"
	"fmt"

	"biohub.org/internal/auth"
	"biohub.org/internal/obs"
)

// Lookup resolves a user's participation in a project or survey. A nil
// participant with a nil error means the user does not participate.
type Lookup interface {
	ProjectParticipant(ctx context.Context, projectID, systemUserID int64) (*auth.ProjectParticipant, error)
	SurveyParticipant(ctx context.Context, surveyID, systemUserID int64) (*auth.ProjectParticipant, error)
}

// Evaluator decides whether a user satisfies a scheme.
type Evaluator struct {
	lookup Lookup
}

// NewEvaluator constructs an Evaluator backed by lookup.
func NewEvaluator(lookup Lookup) (*Evaluator, error) {
	if lookup == nil {
		return nil, errors.New("authz lookup is required")
	}
	return &Evaluator{lookup: lookup}, nil
}

type scopeKind uint8

const (
	scopeProject scopeKind = iota + 1
	scopeSurvey
)

type scopeKey struct {
	kind scopeKind
	id   int64
}

// evaluation holds per-call state; participant lookups are read at most once
// per scope.
type evaluation struct {
	ctx    context.Context
	lookup Lookup
	user   *auth.SystemUser
	memo   map[scopeKey]*auth.ProjectParticipant
}

// Evaluate reports whether user satisfies scheme.
//
// A system administrator always passes. A nil user never passes. A nil scheme
// passes for any known user. Lookup failures return an error wrapping
// ErrEvaluation and are never reported as a denial.
func (e *Evaluator) Evaluate(ctx context.Context, scheme Requirement, user *auth.SystemUser) (bool, error) {
	ok, err := e.evaluate(ctx, scheme, user)
	switch {
	case err != nil:
		obs.ObserveDecision(obs.OutcomeError)
	case ok:
		obs.ObserveDecision(obs.OutcomeAllowed)
	default:
		obs.ObserveDecision(obs.OutcomeDenied)
	}
	return ok, err
}

func (e *Evaluator) evaluate(ctx context.Context, scheme Requirement, user *auth.SystemUser) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.HasSystemRole(auth.SystemRoleAdmin) {
		return true, nil
	}
	if scheme == nil {
		return true, nil
	}
	ev := &evaluation{ctx: ctx, lookup: e.lookup, user: user, memo: make(map[scopeKey]*auth.ProjectParticipant)}
	return ev.eval(scheme)
}

func (ev *evaluation) eval(r Requirement) (bool, error) {
	switch req := r.(type) {
	case And:
		for _, child := range req {
			ok, err := ev.eval(child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range req {
			ok, err := ev.eval(child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case SystemRole:
		return systemRoleSatisfied(ev.user, req.Roles), nil
	case SystemUser:
		return ev.user.ID > 0, nil
	case ProjectRole:
		if req.ProjectID <= 0 {
			return false, fmt.Errorf("%w: project role without project id", ErrMalformedScheme)
		}
		p, err := ev.participant(scopeKey{scopeProject, req.ProjectID})
		if err != nil {
			return false, err
		}
		return projectRoleSatisfied(p, req.Roles), nil
	case ProjectPermission:
		key, err := permissionScope(req)
		if err != nil {
			return false, err
		}
		p, err := ev.participant(key)
		if err != nil {
			return false, err
		}
		return projectPermissionSatisfied(p, req.Permissions), nil
	default:
		return false, fmt.Errorf("%w: unsupported requirement %T", ErrMalformedScheme, r)
	}
}

func permissionScope(req ProjectPermission) (scopeKey, error) {
	switch {
	case req.ProjectID > 0 && req.SurveyID > 0:
		return scopeKey{}, fmt.Errorf("%w: permission names both project and survey", ErrMalformedScheme)
	case req.ProjectID > 0:
		return scopeKey{scopeProject, req.ProjectID}, nil
	case req.SurveyID > 0:
		return scopeKey{scopeSurvey, req.SurveyID}, nil
	default:
		return scopeKey{}, fmt.Errorf("%w: permission without project or survey id", ErrMalformedScheme)
	}
}

func (ev *evaluation) participant(key scopeKey) (*auth.ProjectParticipant, error) {
	if p, ok := ev.memo[key]; ok {
		return p, nil
	}
	var (
		p   *auth.ProjectParticipant
		err error
	)
	switch key.kind {
	case scopeProject:
		p, err = ev.lookup.ProjectParticipant(ev.ctx, key.id, ev.user.ID)
	case scopeSurvey:
		p, err = ev.lookup.SurveyParticipant(ev.ctx, key.id, ev.user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: participant lookup: %w", ErrEvaluation, err)
	}
	ev.memo[key] = p
	return p, nil
}
