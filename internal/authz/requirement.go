// Package authz evaluates declarative authorization schemes against a
// resolved system user.
package authz

// Requirement is one node of an authorization scheme. The set of
// implementations is closed; Evaluate rejects anything else.
type Requirement interface {
	requirement()
}

// SystemRole is satisfied when the user holds any of Roles.
type SystemRole struct {
	Roles []string
}

// SystemUser is satisfied by any known system user.
type SystemUser struct{}

// ProjectRole is satisfied when the user participates in ProjectID with any of Roles.
type ProjectRole struct {
	ProjectID int64
	Roles     []string
}

// ProjectPermission is satisfied when the user holds any of Permissions in
// the project identified by ProjectID, or in the project owning SurveyID.
// Exactly one of ProjectID and SurveyID must be set.
type ProjectPermission struct {
	ProjectID   int64
	SurveyID    int64
	Permissions []string
}

// And is satisfied when every member is. An empty And is satisfied.
type And []Requirement

// Or is satisfied when any member is. An empty Or is not satisfied.
type Or []Requirement

func (SystemRole) requirement()        {}
func (SystemUser) requirement()        {}
func (ProjectRole) requirement()       {}
func (ProjectPermission) requirement() {}
func (And) requirement()               {}
func (Or) requirement()                {}
