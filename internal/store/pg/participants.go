package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"biohub.org/internal/auth"
)

type participantStore struct {
	q dbtx
}

const participantSelect = `
	select pp.project_id, pp.system_user_id, su.user_identifier, pr.project_role_id, pr.name, perm.name
	from project_participation pp
	join system_user su on su.system_user_id = pp.system_user_id
	join project_role pr on pr.project_role_id = pp.project_role_id
	left join project_role_permission prp on prp.project_role_id = pr.project_role_id
	left join project_permission perm on perm.project_permission_id = prp.project_permission_id
`

// collectParticipants folds one row per (role, permission) into participants,
// preserving the order in which users first appear.
func collectParticipants(rows *sql.Rows) ([]auth.ProjectParticipant, error) {
	defer rows.Close()
	var (
		out   []auth.ProjectParticipant
		index = map[[2]int64]int{}
	)
	for rows.Next() {
		var (
			projectID, userID, roleID int64
			identifier, role          string
			perm                      sql.NullString
		)
		if err := rows.Scan(&projectID, &userID, &identifier, &roleID, &role, &perm); err != nil {
			return nil, err
		}
		key := [2]int64{projectID, userID}
		i, ok := index[key]
		if !ok {
			out = append(out, auth.ProjectParticipant{
				ProjectID:      projectID,
				SystemUserID:   userID,
				UserIdentifier: identifier,
				RoleIDs:        []int64{},
				RoleNames:      []string{},
				Permissions:    []string{},
			})
			i = len(out) - 1
			index[key] = i
		}
		p := &out[i]
		if !slices.Contains(p.RoleIDs, roleID) {
			p.RoleIDs = append(p.RoleIDs, roleID)
			p.RoleNames = append(p.RoleNames, role)
		}
		if perm.Valid && !slices.Contains(p.Permissions, perm.String) {
			p.Permissions = append(p.Permissions, perm.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s participantStore) single(ctx context.Context, query string, args ...any) (*auth.ProjectParticipant, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	list, err := collectParticipants(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s participantStore) ProjectParticipant(ctx context.Context, projectID, userID int64) (*auth.ProjectParticipant, error) {
	return s.single(ctx, participantSelect+`
		where pp.project_id = $1 and pp.system_user_id = $2
		order by pr.project_role_id, perm.project_permission_id
	`, projectID, userID)
}

func (s participantStore) SurveyParticipant(ctx context.Context, surveyID, userID int64) (*auth.ProjectParticipant, error) {
	return s.single(ctx, participantSelect+`
		join survey s on s.project_id = pp.project_id
		where s.survey_id = $1 and pp.system_user_id = $2
		order by pr.project_role_id, perm.project_permission_id
	`, surveyID, userID)
}

func (s participantStore) List(ctx context.Context, projectID int64) ([]auth.ProjectParticipant, error) {
	rows, err := s.q.QueryContext(ctx, participantSelect+`
		where pp.project_id = $1
		order by pp.system_user_id, pr.project_role_id, perm.project_permission_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	list, err := collectParticipants(rows)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []auth.ProjectParticipant{}
	}
	return list, nil
}

func (s participantStore) Add(ctx context.Context, projectID, userID int64, role string, actor int64) error {
	res, err := s.q.ExecContext(ctx, `
		insert into project_participation (project_id, system_user_id, project_role_id, create_user)
		select $1, $2, pr.project_role_id, $4
		from project_role pr
		where pr.name = $3
	`, projectID, userID, role, actor)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: unknown project role %q", auth.ErrInvalidInput, role)
	}
	return nil
}

func (s participantStore) DeleteRoles(ctx context.Context, projectID, userID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		with locked as (
			select project_id from project where project_id = $1 for update
		)
		delete from project_participation
		where project_id in (select project_id from locked) and system_user_id = $2
	`, projectID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s participantStore) DeleteForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		with locked as (
			select p.project_id
			from project p
			where p.project_id in (select project_id from project_participation where system_user_id = $1)
			order by p.project_id
			for update
		)
		delete from project_participation
		where system_user_id = $1 and project_id in (select project_id from locked)
		returning project_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (s participantStore) CountWithRole(ctx context.Context, projectID int64, role string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		select count(distinct pp.system_user_id)
		from project_participation pp
		join project_role pr on pr.project_role_id = pp.project_role_id
		where pp.project_id = $1 and pr.name = $2
	`, projectID, role).Scan(&n)
	return n, err
}

type surveyStore struct {
	q dbtx
}

func (s surveyStore) Find(ctx context.Context, id int64) (auth.Survey, error) {
	var sv auth.Survey
	err := s.q.QueryRowContext(ctx, `
		select survey_id, project_id, name from survey where survey_id = $1
	`, id).Scan(&sv.ID, &sv.ProjectID, &sv.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Survey{}, auth.ErrNotFound
	}
	return sv, err
}
