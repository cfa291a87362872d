package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biohub.org/internal/auth"
)

type activityStore struct {
	q dbtx
}

const activityColumns = `administrative_activity_id, activity_type, status, reported_system_user_id,
	user_identifier, identity_source, requested_role_id, reason, email, actioned_by, create_date`

func scanActivity(row rowScanner) (auth.Activity, error) {
	var (
		a             auth.Activity
		status        string
		reason, email sql.NullString
		actionedBy    sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Type, &status, &a.ReporterID, &a.Identifier, &a.IdentitySource,
		&a.RequestedRoleID, &reason, &email, &actionedBy, &a.CreatedAt); err != nil {
		return auth.Activity{}, err
	}
	a.Status = auth.ActivityStatus(status)
	a.Reason = reason.String
	a.Email = email.String
	if actionedBy.Valid {
		id := actionedBy.Int64
		a.ActionedBy = &id
	}
	return a, nil
}

func (s activityStore) Create(ctx context.Context, a *auth.Activity) error {
	err := s.q.QueryRowContext(ctx, `
		insert into administrative_activity
			(activity_type, status, reported_system_user_id, user_identifier, identity_source, requested_role_id, reason, email)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning administrative_activity_id, create_date
	`, a.Type, string(a.Status), a.ReporterID, a.Identifier, a.IdentitySource, a.RequestedRoleID,
		nullIfEmpty(a.Reason), nullIfEmpty(a.Email)).Scan(&a.ID, &a.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, pgErr.ConstraintName)
	}
	return mapError(err)
}

func (s activityStore) Find(ctx context.Context, id int64) (auth.Activity, error) {
	a, err := scanActivity(s.q.QueryRowContext(ctx,
		`select `+activityColumns+` from administrative_activity where administrative_activity_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Activity{}, auth.ErrNotFound
	}
	return a, err
}

func (s activityStore) ListByStatus(ctx context.Context, status auth.ActivityStatus) ([]auth.Activity, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+activityColumns+` from administrative_activity where status = $1 order by administrative_activity_id`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []auth.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s activityStore) UpdateStatus(ctx context.Context, id int64, from, to auth.ActivityStatus, actor int64) error {
	res, err := s.q.ExecContext(ctx, `
		update administrative_activity
		set status = $3, actioned_by = $4, update_date = now()
		where administrative_activity_id = $1 and status = $2
	`, id, string(from), string(to), actor)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff > 0 {
		return nil
	}
	var exists bool
	err = s.q.QueryRowContext(ctx,
		`select exists (select 1 from administrative_activity where administrative_activity_id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	return auth.ErrConflict
}
