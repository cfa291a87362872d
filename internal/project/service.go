// Package project manages project participation.
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"biohub.org/internal/auth"
)

// ErrLeadRequired is returned when a change would leave a project without a Project Lead.
var ErrLeadRequired = fmt.Errorf("%w: a project must have at least one %s", auth.ErrInvariantViolation, auth.ProjectRoleLead)

var projectRoles = map[string]struct{}{
	auth.ProjectRoleLead:   {},
	auth.ProjectRoleEditor: {},
	auth.ProjectRoleViewer: {},
}

// Service applies participant changes inside a single transaction each.
type Service struct {
	store auth.Store
}

// NewService constructs Service.
func NewService(store auth.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("project store is required")
	}
	return &Service{store: store}, nil
}

// Participants lists the participants of a project.
func (s *Service) Participants(ctx context.Context, projectID int64) ([]auth.ProjectParticipant, error) {
	if projectID <= 0 {
		return nil, fmt.Errorf("%w: project id", auth.ErrInvalidInput)
	}
	return s.store.Participants().List(ctx, projectID)
}

// Participant returns one user's participation or ErrNotFound.
func (s *Service) Participant(ctx context.Context, projectID, userID int64) (auth.ProjectParticipant, error) {
	p, err := s.store.Participants().ProjectParticipant(ctx, projectID, userID)
	if err != nil {
		return auth.ProjectParticipant{}, err
	}
	if p == nil {
		return auth.ProjectParticipant{}, auth.ErrNotFound
	}
	return *p, nil
}

// AddParticipant resolves the identity to a system user, provisioning or
// reactivating it as needed, and grants it role on the project.
func (s *Service) AddParticipant(ctx context.Context, projectID int64, identifier, source, role string) (auth.ProjectParticipant, error) {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return auth.ProjectParticipant{}, err
	}
	role, err = normalizeRole(role)
	if err != nil {
		return auth.ProjectParticipant{}, err
	}
	if projectID <= 0 {
		return auth.ProjectParticipant{}, fmt.Errorf("%w: project id", auth.ErrInvalidInput)
	}

	var out auth.ProjectParticipant
	err = s.store.WithinTx(ctx, func(tx auth.Store) error {
		user, err := auth.EnsureSystemUser(ctx, tx.Users(), identifier, source)
		if err != nil {
			return err
		}
		if err := tx.Participants().Add(ctx, projectID, user.ID, role, actor); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		p, err := tx.Participants().ProjectParticipant(ctx, projectID, user.ID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: participant vanished after insert", auth.ErrConflict)
		}
		out = *p
		return nil
	})
	if err != nil {
		return auth.ProjectParticipant{}, err
	}
	return out, nil
}

// UpdateParticipantRole replaces the user's roles on the project with role.
// Fails with ErrLeadRequired, leaving nothing committed, when the project
// would be left without a lead.
func (s *Service) UpdateParticipantRole(ctx context.Context, projectID, userID int64, role string) error {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	role, err = normalizeRole(role)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx auth.Store) error {
		removed, err := tx.Participants().DeleteRoles(ctx, projectID, userID)
		if err != nil {
			return fmt.Errorf("delete participant roles: %w", err)
		}
		if removed == 0 {
			return auth.ErrNotFound
		}
		if err := tx.Participants().Add(ctx, projectID, userID, role, actor); err != nil {
			return fmt.Errorf("insert participant role: %w", err)
		}
		return ensureLead(ctx, tx, projectID)
	})
}

// RemoveParticipant deletes the user's participation in the project.
func (s *Service) RemoveParticipant(ctx context.Context, projectID, userID int64) error {
	if _, err := auth.ActorFromContext(ctx); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(tx auth.Store) error {
		removed, err := tx.Participants().DeleteRoles(ctx, projectID, userID)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if removed == 0 {
			return auth.ErrNotFound
		}
		return ensureLead(ctx, tx, projectID)
	})
}

// DeactivateSystemUser ends the user's record and drops all of their project
// participation in one transaction. Fails with ErrLeadRequired when a project
// would be left without a lead. Deactivating an inactive user is a no-op.
func (s *Service) DeactivateSystemUser(ctx context.Context, userID int64) error {
	actor, err := auth.ActorFromContext(ctx)
	if err != nil {
		return err
	}
	if userID <= 0 {
		return fmt.Errorf("%w: system user id", auth.ErrInvalidInput)
	}
	if userID == actor {
		return fmt.Errorf("%w: cannot deactivate yourself", auth.ErrInvalidInput)
	}
	return s.store.WithinTx(ctx, func(tx auth.Store) error {
		user, err := tx.Users().Find(ctx, userID)
		if err != nil {
			return err
		}
		if !user.Active() {
			return nil
		}
		projects, err := tx.Participants().DeleteForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("drop participation: %w", err)
		}
		if err := tx.Users().Deactivate(ctx, userID); err != nil {
			return fmt.Errorf("deactivate system user: %w", err)
		}
		for _, id := range projects {
			if err := ensureLead(ctx, tx, id); err != nil {
				return fmt.Errorf("project %d: %w", id, err)
			}
		}
		return nil
	})
}

func ensureLead(ctx context.Context, tx auth.Store, projectID int64) error {
	leads, err := tx.Participants().CountWithRole(ctx, projectID, auth.ProjectRoleLead)
	if err != nil {
		return fmt.Errorf("count project leads: %w", err)
	}
	if leads == 0 {
		return ErrLeadRequired
	}
	return nil
}

func normalizeRole(role string) (string, error) {
	role = strings.TrimSpace(role)
	if _, ok := projectRoles[role]; !ok {
		return "", fmt.Errorf("%w: unknown project role %q", auth.ErrInvalidInput, role)
	}
	return role, nil
}
