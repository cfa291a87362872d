package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"biohub.org/internal/auth"
	"biohub.org/internal/authz"
	"biohub.org/internal/obs"
)

// SchemeBuilder derives the authorization scheme for a request, usually from
// path parameters. A nil builder, or a nil scheme, admits any known user.
type SchemeBuilder func(r *http.Request) (authz.Requirement, error)

// authorize evaluates the route's scheme against the authenticated user and
// runs next only when it is satisfied. Evaluation failures are server errors,
// never denials.
func (a *API) authorize(build SchemeBuilder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var scheme authz.Requirement
			if build != nil {
				s, err := build(r)
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				scheme = s
			}

			var user *auth.SystemUser
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				user = &p.User
			}

			allowed, err := a.evaluator.Evaluate(r.Context(), scheme, user)
			if err != nil {
				writeServiceError(w, r, fmt.Errorf("authorize %s %s: %w", r.Method, r.URL.Path, err))
				return
			}
			if !allowed {
				fields := logrus.Fields{"request_id": RequestIDFromContext(r.Context()), "path": r.URL.Path}
				if user != nil {
					fields["user_id"] = user.ID
				}
				obs.Logger().WithFields(fields).Info("access denied")
				writeServiceError(w, r, authz.ErrAccessDenied)
				return
			}

			d := authz.Decision{Scheme: scheme, Allowed: true}
			if user != nil {
				d.Subject = *user
			}
			next.ServeHTTP(w, r.WithContext(authz.ContextWithDecision(r.Context(), d)))
		})
	}
}

// decisionSubject returns the user the gate admitted.
func decisionSubject(r *http.Request) (auth.SystemUser, error) {
	d, ok := authz.DecisionFromContext(r.Context())
	if !ok || !d.Allowed || d.Subject.ID <= 0 {
		return auth.SystemUser{}, auth.ErrMissingActor
	}
	return d.Subject, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", auth.ErrInvalidInput, name)
	}
	return id, nil
}

var administratorRoles = []string{auth.SystemRoleAdmin, auth.SystemRoleDataAdmin}

func systemUserScheme(*http.Request) (authz.Requirement, error) {
	return authz.And{authz.SystemUser{}}, nil
}

func administratorScheme(*http.Request) (authz.Requirement, error) {
	return authz.Or{authz.SystemRole{Roles: administratorRoles}}, nil
}

func projectReadScheme(r *http.Request) (authz.Requirement, error) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return nil, err
	}
	return authz.Or{
		authz.SystemRole{Roles: administratorRoles},
		authz.ProjectPermission{ProjectID: projectID, Permissions: []string{
			auth.ProjectPermissionCoordinator,
			auth.ProjectPermissionCollaborator,
			auth.ProjectPermissionObserver,
		}},
	}, nil
}

func projectWriteScheme(r *http.Request) (authz.Requirement, error) {
	projectID, err := pathID(r, "projectId")
	if err != nil {
		return nil, err
	}
	return authz.Or{
		authz.SystemRole{Roles: administratorRoles},
		authz.ProjectPermission{ProjectID: projectID, Permissions: []string{auth.ProjectPermissionCoordinator}},
		authz.ProjectRole{ProjectID: projectID, Roles: []string{auth.ProjectRoleLead}},
	}, nil
}

func surveyReadScheme(r *http.Request) (authz.Requirement, error) {
	surveyID, err := pathID(r, "surveyId")
	if err != nil {
		return nil, err
	}
	return authz.Or{
		authz.SystemRole{Roles: administratorRoles},
		authz.ProjectPermission{SurveyID: surveyID, Permissions: []string{
			auth.ProjectPermissionCoordinator,
			auth.ProjectPermissionCollaborator,
			auth.ProjectPermissionObserver,
		}},
	}, nil
}
