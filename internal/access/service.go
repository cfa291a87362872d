// Package access handles system access requests raised by users and actioned
// by administrators.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"biohub.org/internal/auth"
	"biohub.org/internal/obs"
)

// ErrNotPending is returned when an activity has already been actioned or rejected.
var ErrNotPending = errors.New("access: request is no longer pending")

// Request is a user's application for a system role.
type Request struct {
	RequestedRoleID int64
	Reason          string
	Email           string
}

// Notifier informs requesters about the outcome of their request.
type Notifier interface {
	RequestSubmitted(ctx context.Context, a auth.Activity) error
	RequestApproved(ctx context.Context, a auth.Activity) error
	RequestRejected(ctx context.Context, a auth.Activity) error
}

// Service manages administrative activities of type "System Access".
type Service struct {
	store    auth.Store
	notifier Notifier
	log      logrus.FieldLogger
}

// NewService constructs Service. A nil notifier logs notifications instead.
func NewService(store auth.Store, notifier Notifier) (*Service, error) {
	if store == nil {
		return nil, errors.New("access store is required")
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{store: store, notifier: notifier, log: obs.Logger().WithField("component", "access")}, nil
}

// Submit records a pending request on behalf of the calling principal.
func (s *Service) Submit(ctx context.Context, req Request) (auth.Activity, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal.User.ID <= 0 {
		return auth.Activity{}, auth.ErrMissingActor
	}
	if req.RequestedRoleID <= 0 {
		return auth.Activity{}, fmt.Errorf("%w: requested role", auth.ErrInvalidInput)
	}
	act := auth.Activity{
		Type:            auth.ActivityTypeAccessRequest,
		Status:          auth.ActivityPending,
		ReporterID:      principal.User.ID,
		Identifier:      principal.User.UserIdentifier,
		IdentitySource:  principal.User.IdentitySource,
		RequestedRoleID: req.RequestedRoleID,
		Reason:          strings.TrimSpace(req.Reason),
		Email:           strings.TrimSpace(req.Email),
	}
	if act.Email == "" {
		act.Email = principal.Claims.Email
	}
	if err := s.store.Activities().Create(ctx, &act); err != nil {
		return auth.Activity{}, fmt.Errorf("create access request: %w", err)
	}
	s.notify(ctx, act, s.notifier.RequestSubmitted)
	return act, nil
}

// ListPending returns requests awaiting a decision.
func (s *Service) ListPending(ctx context.Context) ([]auth.Activity, error) {
	return s.store.Activities().ListByStatus(ctx, auth.ActivityPending)
}

// Approve provisions or reactivates the requester, grants the requested
// system role and marks the request actioned in one transaction.
func (s *Service) Approve(ctx context.Context, id int64) (auth.Activity, error) {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return auth.Activity{}, err
	}
	var act auth.Activity
	err = s.store.WithinTx(ctx, func(tx auth.Store) error {
		found, err := pending(ctx, tx, id)
		if err != nil {
			return err
		}
		act = found
		user, err := auth.EnsureSystemUser(ctx, tx.Users(), act.Identifier, act.IdentitySource)
		if err != nil {
			return err
		}
		if err := tx.Users().AddSystemRole(ctx, user.ID, act.RequestedRoleID); err != nil {
			return fmt.Errorf("grant system role: %w", err)
		}
		return transition(ctx, tx, &act, auth.ActivityActioned, actor)
	})
	if err != nil {
		return auth.Activity{}, err
	}
	s.notify(ctx, act, s.notifier.RequestApproved)
	return act, nil
}

// Reject marks a pending request rejected without granting anything.
func (s *Service) Reject(ctx context.Context, id int64) (auth.Activity, error) {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return auth.Activity{}, err
	}
	var act auth.Activity
	err = s.store.WithinTx(ctx, func(tx auth.Store) error {
		found, err := pending(ctx, tx, id)
		if err != nil {
			return err
		}
		act = found
		return transition(ctx, tx, &act, auth.ActivityRejected, actor)
	})
	if err != nil {
		return auth.Activity{}, err
	}
	s.notify(ctx, act, s.notifier.RequestRejected)
	return act, nil
}

func pending(ctx context.Context, tx auth.Store, id int64) (auth.Activity, error) {
	act, err := tx.Activities().Find(ctx, id)
	if err != nil {
		return auth.Activity{}, err
	}
	if act.Status != auth.ActivityPending {
		return auth.Activity{}, ErrNotPending
	}
	return act, nil
}

func transition(ctx context.Context, tx auth.Store, act *auth.Activity, to auth.ActivityStatus, actor int64) error {
	err := tx.Activities().UpdateStatus(ctx, act.ID, auth.ActivityPending, to, actor)
	if errors.Is(err, auth.ErrConflict) {
		return ErrNotPending
	}
	if err != nil {
		return fmt.Errorf("update access request: %w", err)
	}
	act.Status = to
	act.ActionedBy = &actor
	return nil
}

// notify is best effort; the state change has already committed.
func (s *Service) notify(ctx context.Context, act auth.Activity, fn func(context.Context, auth.Activity) error) {
	if err := fn(ctx, act); err != nil {
		s.log.WithError(err).WithField("activity_id", act.ID).Warn("access request notification failed")
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) RequestSubmitted(_ context.Context, a auth.Activity) error {
	logNotification("access request submitted", a)
	return nil
}

func (LogNotifier) RequestApproved(_ context.Context, a auth.Activity) error {
	logNotification("access request approved", a)
	return nil
}

func (LogNotifier) RequestRejected(_ context.Context, a auth.Activity) error {
	logNotification("access request rejected", a)
	return nil
}

func logNotification(msg string, a auth.Activity) {
	obs.Logger().WithFields(logrus.Fields{
		"type":            "notification",
		"activity_id":     a.ID,
		"status":          a.Status,
		"user_identifier": a.Identifier,
		"email":           a.Email,
	}).Info(msg)
}
