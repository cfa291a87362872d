package access_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biohub.org/internal/access"
	"biohub.org/internal/auth"
	"biohub.org/internal/auth/authtest"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) record(kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
	return n.err
}

func (n *recordingNotifier) RequestSubmitted(context.Context, auth.Activity) error {
	return n.record("submitted")
}

func (n *recordingNotifier) RequestApproved(context.Context, auth.Activity) error {
	return n.record("approved")
}

func (n *recordingNotifier) RequestRejected(context.Context, auth.Activity) error {
	return n.record("rejected")
}

type fixture struct {
	store    *authtest.Store
	svc      *access.Service
	notifier *recordingNotifier
	admin    context.Context
	user     context.Context
	userID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := authtest.NewStore()
	n := &recordingNotifier{}
	svc, err := access.NewService(store, n)
	require.NoError(t, err)

	admin := store.SeedUser("admin", auth.IdentitySourceIDIR, auth.SystemRoleAdmin)
	requester := store.SeedUser("requester", auth.IdentitySourceBCeIDBasic)
	return &fixture{
		store:    store,
		svc:      svc,
		notifier: n,
		admin:    auth.ContextWithPrincipal(context.Background(), auth.Principal{User: admin}),
		user: auth.ContextWithPrincipal(context.Background(), auth.Principal{
			User:   requester,
			Claims: auth.Claims{Email: "requester@example.com"},
		}),
		userID: requester.ID,
	}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	f := newFixture(t)
	creator := authtest.SystemRoleIDs[auth.SystemRoleCreator]

	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: creator, Reason: " fieldwork "})
	require.NoError(t, err)
	assert.Equal(t, auth.ActivityPending, act.Status)
	assert.Equal(t, "requester", act.Identifier)
	assert.Equal(t, "fieldwork", act.Reason)
	assert.Equal(t, "requester@example.com", act.Email)

	pending, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, act.ID, pending[0].ID)
	assert.Equal(t, []string{"submitted"}, f.notifier.events)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), access.Request{RequestedRoleID: 1})
	assert.True(t, errors.Is(err, auth.ErrMissingActor))
	_, err = f.svc.Submit(f.user, access.Request{})
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))
}

func TestApproveGrantsRole(t *testing.T) {
	f := newFixture(t)
	creator := authtest.SystemRoleIDs[auth.SystemRoleCreator]
	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: creator})
	require.NoError(t, err)

	approved, err := f.svc.Approve(f.admin, act.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.ActivityActioned, approved.Status)
	require.NotNil(t, approved.ActionedBy)

	user, ok := f.store.User(f.userID)
	require.True(t, ok)
	assert.True(t, user.HasSystemRole(auth.SystemRoleCreator))

	pending, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.Approve(f.admin, act.ID)
	assert.True(t, errors.Is(err, access.ErrNotPending))
	_, err = f.svc.Reject(f.admin, act.ID)
	assert.True(t, errors.Is(err, access.ErrNotPending))
	assert.Equal(t, []string{"submitted", "approved"}, f.notifier.events)
}

func TestApproveReactivatesDeactivatedRequester(t *testing.T) {
	f := newFixture(t)
	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: authtest.SystemRoleIDs[auth.SystemRoleCreator]})
	require.NoError(t, err)
	f.store.DeactivateNow(f.userID)

	_, err = f.svc.Approve(f.admin, act.ID)
	require.NoError(t, err)
	user, _ := f.store.User(f.userID)
	assert.True(t, user.Active())
}

func TestApproveRollsBackWhenGrantFails(t *testing.T) {
	f := newFixture(t)
	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: authtest.SystemRoleIDs[auth.SystemRoleCreator]})
	require.NoError(t, err)
	f.store.DeactivateNow(f.userID)
	f.store.FailOn["users.add_system_role"] = errors.New("insert failed")

	_, err = f.svc.Approve(f.admin, act.ID)
	require.Error(t, err)

	user, _ := f.store.User(f.userID)
	assert.False(t, user.Active())
	pending, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRejectLeavesRolesUntouched(t *testing.T) {
	f := newFixture(t)
	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: authtest.SystemRoleIDs[auth.SystemRoleAdmin]})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(f.admin, act.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.ActivityRejected, rejected.Status)

	user, _ := f.store.User(f.userID)
	assert.Empty(t, user.RoleNames)
}

func TestApproveUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Approve(f.admin, 404)
	assert.True(t, errors.Is(err, auth.ErrNotFound))
	_, err = f.svc.Approve(context.Background(), 404)
	assert.True(t, errors.Is(err, auth.ErrMissingActor))
}

func TestNotificationFailureDoesNotFailApproval(t *testing.T) {
	f := newFixture(t)
	act, err := f.svc.Submit(f.user, access.Request{RequestedRoleID: authtest.SystemRoleIDs[auth.SystemRoleCreator]})
	require.NoError(t, err)
	f.notifier.err = errors.New("smtp down")

	_, err = f.svc.Approve(f.admin, act.ID)
	assert.NoError(t, err)
}
