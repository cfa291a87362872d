// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"biohub.org/internal/auth"
)

type participation struct {
	projectID int64
	userID    int64
	role      string
}

type state struct {
	nextUserID     int64
	nextActivityID int64
	users          map[int64]auth.SystemUser
	participations []participation
	surveys        map[int64]auth.Survey
	activities     map[int64]auth.Activity
}

func (s *state) clone() *state {
	c := &state{
		nextUserID:     s.nextUserID,
		nextActivityID: s.nextActivityID,
		users:          make(map[int64]auth.SystemUser, len(s.users)),
		participations: slices.Clone(s.participations),
		surveys:        make(map[int64]auth.Survey, len(s.surveys)),
		activities:     make(map[int64]auth.Activity, len(s.activities)),
	}
	for k, v := range s.users {
		v.RoleIDs = slices.Clone(v.RoleIDs)
		v.RoleNames = slices.Clone(v.RoleNames)
		c.users[k] = v
	}
	for k, v := range s.surveys {
		c.surveys[k] = v
	}
	for k, v := range s.activities {
		c.activities[k] = v
	}
	return c
}

// Store is a goroutine-safe in-memory auth.Store. Transactions snapshot the
// whole state and restore it when fn fails.
type Store struct {
	mu    *sync.Mutex
	st    **state
	inTx  bool
	calls *Calls

	// FailOn, when set, makes the named operation return the error.
	FailOn map[string]error
}

// Calls counts store reads, so tests can assert memoization.
type Calls struct {
	mu     sync.Mutex
	counts map[string]int
}

// Count returns the number of calls recorded for op.
func (c *Calls) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

func (c *Calls) inc(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op]++
}

// Role catalogues mirroring the seed migration.
var (
	SystemRoleIDs = map[string]int64{
		auth.SystemRoleAdmin:     1,
		auth.SystemRoleDataAdmin: 2,
		auth.SystemRoleCreator:   3,
	}
	ProjectRoleIDs = map[string]int64{
		auth.ProjectRoleLead:   1,
		auth.ProjectRoleEditor: 2,
		auth.ProjectRoleViewer: 3,
	}
	ProjectRolePermissions = map[string][]string{
		auth.ProjectRoleLead:   {auth.ProjectPermissionCoordinator},
		auth.ProjectRoleEditor: {auth.ProjectPermissionCollaborator},
		auth.ProjectRoleViewer: {auth.ProjectPermissionObserver},
	}
)

// NewStore returns an empty store.
func NewStore() *Store {
	st := &state{
		nextUserID:     1,
		nextActivityID: 1,
		users:          map[int64]auth.SystemUser{},
		surveys:        map[int64]auth.Survey{},
		activities:     map[int64]auth.Activity{},
	}
	return &Store{mu: &sync.Mutex{}, st: &st, calls: &Calls{counts: map[string]int{}}, FailOn: map[string]error{}}
}

// Calls exposes read counters.
func (s *Store) Calls() *Calls { return s.calls }

// SeedUser inserts a user holding the named system roles and returns it.
func (s *Store) SeedUser(identifier, source string, roles ...string) auth.SystemUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := *s.st
	u := auth.SystemUser{ID: st.nextUserID, UserIdentifier: identifier, IdentitySource: source}
	st.nextUserID++
	for _, r := range roles {
		u.RoleIDs = append(u.RoleIDs, SystemRoleIDs[r])
		u.RoleNames = append(u.RoleNames, r)
	}
	st.users[u.ID] = u
	return u
}

// SeedParticipant grants role on projectID to userID.
func (s *Store) SeedParticipant(projectID, userID int64, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*s.st).participations = append((*s.st).participations, participation{projectID, userID, role})
}

// SeedSurvey registers a survey under projectID.
func (s *Store) SeedSurvey(surveyID, projectID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*s.st).surveys[surveyID] = auth.Survey{ID: surveyID, ProjectID: projectID, Name: name}
}

// DeactivateNow sets record_end_date on the user.
func (s *Store) DeactivateNow(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := (*s.st).users[id]
	now := time.Now().UTC()
	u.RecordEndDate = &now
	(*s.st).users[id] = u
}

// User returns the stored user.
func (s *Store) User(id int64) (auth.SystemUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := (*s.st).users[id]
	return u, ok
}

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len((*s.st).users)
}

func (s *Store) Users() auth.UserStore               { return userStore{s} }
func (s *Store) Participants() auth.ParticipantStore { return participantStore{s} }
func (s *Store) Surveys() auth.SurveyStore           { return surveyStore{s} }
func (s *Store) Activities() auth.ActivityStore      { return activityStore{s} }

// WithinTx snapshots state; nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	snapshot := (*s.st).clone()
	s.mu.Unlock()

	tx := &Store{mu: s.mu, st: s.st, inTx: true, calls: s.calls, FailOn: s.FailOn}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		*s.st = snapshot
		s.mu.Unlock()
	}
	return err
}

func (s *Store) fail(op string) error {
	s.calls.inc(op)
	if err, ok := s.FailOn[op]; ok {
		return err
	}
	return nil
}

type userStore struct{ s *Store }

func (u userStore) Find(_ context.Context, id int64) (auth.SystemUser, error) {
	if err := u.s.fail("users.find"); err != nil {
		return auth.SystemUser{}, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := (*u.s.st).users[id]
	if !ok {
		return auth.SystemUser{}, auth.ErrNotFound
	}
	return user, nil
}

func (u userStore) FindByIdentifier(_ context.Context, identifier, source string) (auth.SystemUser, error) {
	if err := u.s.fail("users.find_by_identifier"); err != nil {
		return auth.SystemUser{}, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range (*u.s.st).users {
		if strings.EqualFold(user.UserIdentifier, identifier) && user.IdentitySource == source {
			return user, nil
		}
	}
	return auth.SystemUser{}, auth.ErrNotFound
}

func (u userStore) Create(_ context.Context, identifier, source string) (auth.SystemUser, error) {
	if err := u.s.fail("users.create"); err != nil {
		return auth.SystemUser{}, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	st := *u.s.st
	for _, user := range st.users {
		if strings.EqualFold(user.UserIdentifier, identifier) && user.IdentitySource == source {
			return auth.SystemUser{}, auth.ErrConflict
		}
	}
	user := auth.SystemUser{ID: st.nextUserID, UserIdentifier: identifier, IdentitySource: source}
	st.nextUserID++
	st.users[user.ID] = user
	return user, nil
}

func (u userStore) Reactivate(_ context.Context, id int64) (auth.SystemUser, error) {
	if err := u.s.fail("users.reactivate"); err != nil {
		return auth.SystemUser{}, err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := (*u.s.st).users[id]
	if !ok {
		return auth.SystemUser{}, auth.ErrNotFound
	}
	user.RecordEndDate = nil
	(*u.s.st).users[id] = user
	return user, nil
}

func (u userStore) Deactivate(_ context.Context, id int64) error {
	if err := u.s.fail("users.deactivate"); err != nil {
		return err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := (*u.s.st).users[id]
	if !ok {
		return auth.ErrNotFound
	}
	now := time.Now().UTC()
	user.RecordEndDate = &now
	(*u.s.st).users[id] = user
	return nil
}

func (u userStore) AddSystemRole(_ context.Context, userID, roleID int64) error {
	if err := u.s.fail("users.add_system_role"); err != nil {
		return err
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := (*u.s.st).users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	var name string
	for n, id := range SystemRoleIDs {
		if id == roleID {
			name = n
		}
	}
	if name == "" {
		return auth.ErrNotFound
	}
	if slices.Contains(user.RoleIDs, roleID) {
		return nil
	}
	user.RoleIDs = append(slices.Clone(user.RoleIDs), roleID)
	user.RoleNames = append(slices.Clone(user.RoleNames), name)
	(*u.s.st).users[userID] = user
	return nil
}

type participantStore struct{ s *Store }

func (p participantStore) build(st *state, projectID, userID int64) *auth.ProjectParticipant {
	var out *auth.ProjectParticipant
	for _, row := range st.participations {
		if row.projectID != projectID || row.userID != userID {
			continue
		}
		if out == nil {
			out = &auth.ProjectParticipant{ProjectID: projectID, SystemUserID: userID}
			if u, ok := st.users[userID]; ok {
				out.UserIdentifier = u.UserIdentifier
			}
		}
		out.RoleIDs = append(out.RoleIDs, ProjectRoleIDs[row.role])
		out.RoleNames = append(out.RoleNames, row.role)
		out.Permissions = append(out.Permissions, ProjectRolePermissions[row.role]...)
	}
	return out
}

func (p participantStore) ProjectParticipant(_ context.Context, projectID, userID int64) (*auth.ProjectParticipant, error) {
	if err := p.s.fail("participants.project"); err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.build(*p.s.st, projectID, userID), nil
}

func (p participantStore) SurveyParticipant(_ context.Context, surveyID, userID int64) (*auth.ProjectParticipant, error) {
	if err := p.s.fail("participants.survey"); err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	survey, ok := (*p.s.st).surveys[surveyID]
	if !ok {
		return nil, nil
	}
	return p.build(*p.s.st, survey.ProjectID, userID), nil
}

func (p participantStore) List(_ context.Context, projectID int64) ([]auth.ProjectParticipant, error) {
	if err := p.s.fail("participants.list"); err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	st := *p.s.st
	seen := map[int64]bool{}
	var out []auth.ProjectParticipant
	for _, row := range st.participations {
		if row.projectID != projectID || seen[row.userID] {
			continue
		}
		seen[row.userID] = true
		out = append(out, *p.build(st, projectID, row.userID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemUserID < out[j].SystemUserID })
	return out, nil
}

func (p participantStore) Add(_ context.Context, projectID, userID int64, role string, _ int64) error {
	if err := p.s.fail("participants.add"); err != nil {
		return err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	st := *p.s.st
	if _, ok := ProjectRoleIDs[role]; !ok {
		return auth.ErrInvalidInput
	}
	if _, ok := st.users[userID]; !ok {
		return auth.ErrNotFound
	}
	for _, row := range st.participations {
		if row.projectID == projectID && row.userID == userID {
			return auth.ErrConflict
		}
	}
	st.participations = append(st.participations, participation{projectID, userID, role})
	return nil
}

func (p participantStore) DeleteRoles(_ context.Context, projectID, userID int64) (int64, error) {
	if err := p.s.fail("participants.delete_roles"); err != nil {
		return 0, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	st := *p.s.st
	var kept []participation
	var removed int64
	for _, row := range st.participations {
		if row.projectID == projectID && row.userID == userID {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	st.participations = kept
	return removed, nil
}

func (p participantStore) DeleteForUser(_ context.Context, userID int64) ([]int64, error) {
	if err := p.s.fail("participants.delete_for_user"); err != nil {
		return nil, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	st := *p.s.st
	var (
		kept []participation
		ids  []int64
	)
	for _, row := range st.participations {
		if row.userID != userID {
			kept = append(kept, row)
			continue
		}
		if !slices.Contains(ids, row.projectID) {
			ids = append(ids, row.projectID)
		}
	}
	st.participations = kept
	slices.Sort(ids)
	return ids, nil
}

func (p participantStore) CountWithRole(_ context.Context, projectID int64, role string) (int, error) {
	if err := p.s.fail("participants.count_with_role"); err != nil {
		return 0, err
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	users := map[int64]bool{}
	for _, row := range (*p.s.st).participations {
		if row.projectID == projectID && row.role == role {
			users[row.userID] = true
		}
	}
	return len(users), nil
}

type surveyStore struct{ s *Store }

func (v surveyStore) Find(_ context.Context, id int64) (auth.Survey, error) {
	if err := v.s.fail("surveys.find"); err != nil {
		return auth.Survey{}, err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	survey, ok := (*v.s.st).surveys[id]
	if !ok {
		return auth.Survey{}, auth.ErrNotFound
	}
	return survey, nil
}

type activityStore struct{ s *Store }

func (a activityStore) Create(_ context.Context, act *auth.Activity) error {
	if err := a.s.fail("activities.create"); err != nil {
		return err
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	st := *a.s.st
	act.ID = st.nextActivityID
	st.nextActivityID++
	if act.CreatedAt.IsZero() {
		act.CreatedAt = time.Now().UTC()
	}
	st.activities[act.ID] = *act
	return nil
}

func (a activityStore) Find(_ context.Context, id int64) (auth.Activity, error) {
	if err := a.s.fail("activities.find"); err != nil {
		return auth.Activity{}, err
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	act, ok := (*a.s.st).activities[id]
	if !ok {
		return auth.Activity{}, auth.ErrNotFound
	}
	return act, nil
}

func (a activityStore) ListByStatus(_ context.Context, status auth.ActivityStatus) ([]auth.Activity, error) {
	if err := a.s.fail("activities.list"); err != nil {
		return nil, err
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []auth.Activity
	for _, act := range (*a.s.st).activities {
		if act.Status == status {
			out = append(out, act)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a activityStore) UpdateStatus(_ context.Context, id int64, from, to auth.ActivityStatus, actor int64) error {
	if err := a.s.fail("activities.update_status"); err != nil {
		return err
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	act, ok := (*a.s.st).activities[id]
	if !ok {
		return auth.ErrNotFound
	}
	if act.Status != from {
		return auth.ErrConflict
	}
	act.Status = to
	act.ActionedBy = &actor
	(*a.s.st).activities[id] = act
	return nil
}
