package pg

import (
	"context"
	"database/sql"
	"errors"

	"biohub.org/internal/auth"
)

type userStore struct {
	q dbtx
}

const userColumns = `system_user_id, user_identifier, user_identity_source, record_end_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.SystemUser, error) {
	var (
		u   auth.SystemUser
		end sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.UserIdentifier, &u.IdentitySource, &end); err != nil {
		return auth.SystemUser{}, err
	}
	if end.Valid {
		t := end.Time
		u.RecordEndDate = &t
	}
	return u, nil
}

func (s userStore) withRoles(ctx context.Context, u auth.SystemUser) (auth.SystemUser, error) {
	rows, err := s.q.QueryContext(ctx, `
		select sr.system_role_id, sr.name
		from system_user_role sur
		join system_role sr on sr.system_role_id = sur.system_role_id
		where sur.system_user_id = $1
		order by sr.system_role_id
	`, u.ID)
	if err != nil {
		return auth.SystemUser{}, err
	}
	defer rows.Close()

	u.RoleIDs, u.RoleNames = []int64{}, []string{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return auth.SystemUser{}, err
		}
		u.RoleIDs = append(u.RoleIDs, id)
		u.RoleNames = append(u.RoleNames, name)
	}
	if err := rows.Err(); err != nil {
		return auth.SystemUser{}, err
	}
	return u, nil
}

func (s userStore) one(ctx context.Context, query string, args ...any) (auth.SystemUser, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SystemUser{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.SystemUser{}, mapError(err)
	}
	return s.withRoles(ctx, u)
}

func (s userStore) Find(ctx context.Context, id int64) (auth.SystemUser, error) {
	return s.one(ctx, `select `+userColumns+` from system_user where system_user_id = $1`, id)
}

func (s userStore) FindByIdentifier(ctx context.Context, identifier, source string) (auth.SystemUser, error) {
	return s.one(ctx, `
		select `+userColumns+`
		from system_user
		where lower(user_identifier) = lower($1) and user_identity_source = $2
	`, identifier, source)
}

// Create inserts without raising on a duplicate so an enclosing transaction
// stays usable; a duplicate surfaces as ErrConflict.
func (s userStore) Create(ctx context.Context, identifier, source string) (auth.SystemUser, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `
		insert into system_user (user_identifier, user_identity_source)
		values ($1, $2)
		on conflict do nothing
		returning `+userColumns,
		identifier, source))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SystemUser{}, auth.ErrConflict
	}
	if err != nil {
		return auth.SystemUser{}, mapError(err)
	}
	u.RoleIDs, u.RoleNames = []int64{}, []string{}
	return u, nil
}

func (s userStore) Reactivate(ctx context.Context, id int64) (auth.SystemUser, error) {
	return s.one(ctx, `
		update system_user
		set record_end_date = null, update_date = now()
		where system_user_id = $1
		returning `+userColumns, id)
}

func (s userStore) Deactivate(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `
		update system_user
		set record_end_date = coalesce(record_end_date, now()), update_date = now()
		where system_user_id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s userStore) AddSystemRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.q.ExecContext(ctx, `
		insert into system_user_role (system_user_id, system_role_id)
		values ($1, $2)
		on conflict (system_user_id, system_role_id) do nothing
	`, userID, roleID)
	return mapError(err)
}

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
