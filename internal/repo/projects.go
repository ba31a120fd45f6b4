package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"teamline/internal/domain"
)

const projectColumns = `id,title,COALESCE(description,''),tags_json,status,creator_id,created_at,updated_at`

const roleColumns = `id,project_id,title,COALESCE(description,''),filled,user_id`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var tags string
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &tags, &p.Status, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return p, fmt.Errorf("decode project tags: %w", err)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func scanRole(row interface{ Scan(...any) error }) (domain.Role, error) {
	var r domain.Role
	var filled int
	var user sql.NullString
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &filled, &user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	r.Filled = filled == 1
	r.UserID = stringPtr(user)
	return r, nil
}

// InsertProjectTx stores the project row and its roles in list order.
func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,title,description,tags_json,status,creator_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), string(tagsJSON), p.Status, p.CreatorID, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for i, role := range p.Roles {
		if err := r.insertRole(ctx, tx, role, i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) insertRole(ctx context.Context, q querier, role domain.Role, position int) error {
	_, err := q.ExecContext(ctx, `INSERT INTO project_roles(id,project_id,position,title,description,filled,user_id) VALUES (?,?,?,?,?,?,?)`,
		role.ID, role.ProjectID, position, role.Title, nullable(role.Description), boolInt(role.Filled), nullableStringPtr(role.UserID))
	if err != nil {
		return fmt.Errorf("insert role %s: %w", role.Title, err)
	}
	return nil
}

// AppendRoleTx adds a role at the end of the project's role list.
func (r Repo) AppendRoleTx(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM project_roles WHERE project_id=?`, role.ProjectID).Scan(&next); err != nil {
		return err
	}
	return r.insertRole(ctx, tx, role, next)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return r.getProject(ctx, tx, id)
}

func (r Repo) getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.Roles, err = r.listRoles(ctx, q, id)
	return p, err
}

func (r Repo) listRoles(ctx context.Context, q querier, projectID string) ([]domain.Role, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+roleColumns+` FROM project_roles WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []domain.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ProjectFilters narrows ListProjects. MemberID matches projects where the
// user holds a filled role.
type ProjectFilters struct {
	CreatorID       string
	MemberID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.MemberID != "" {
		clauses = append(clauses, "id IN (SELECT project_id FROM project_roles WHERE user_id=?)")
		args = append(args, f.MemberID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	query, args = limitClause(query, args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Roles, err = r.listRoles(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) UpdateProjectStatusTx(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchProjectTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=? WHERE id=?`, now, id)
	return err
}

func (r Repo) GetRoleTx(ctx context.Context, tx *sql.Tx, projectID, roleID string) (domain.Role, error) {
	return scanRole(tx.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM project_roles WHERE id=? AND project_id=?`, roleID, projectID))
}

// ResolveRoleTx finds the role a request refers to. ref is matched against role
// ids first, then titles. Among roles sharing a title the first open one by
// position wins; if every match is filled the first match is returned so the
// caller can report it as unavailable.
func (r Repo) ResolveRoleTx(ctx context.Context, tx *sql.Tx, projectID, ref string) (domain.Role, error) {
	role, err := r.GetRoleTx(ctx, tx, projectID, ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return role, err
	}
	return scanRole(tx.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM project_roles
WHERE project_id=? AND title=?
ORDER BY filled ASC, position ASC LIMIT 1`, projectID, ref))
}

// FillRoleTx assigns userID to an open role. The update only matches while the
// role is still open, so of two racing accepts exactly one sees a row change.
func (r Repo) FillRoleTx(ctx context.Context, tx *sql.Tx, projectID, roleID, userID string) (domain.Role, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_roles SET filled=1, user_id=? WHERE id=? AND project_id=? AND filled=0`, userID, roleID, projectID)
	if err != nil {
		return domain.Role{}, fmt.Errorf("fill role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Role{}, err
	}
	role, err := r.GetRoleTx(ctx, tx, projectID, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	if n == 0 {
		return role, domain.ErrRoleAlreadyFilled
	}
	return role, nil
}

// OpenRoleTx clears a filled role. Opening an open role is a no-op.
func (r Repo) OpenRoleTx(ctx context.Context, tx *sql.Tx, projectID, roleID string) (domain.Role, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE project_roles SET filled=0, user_id=NULL WHERE id=? AND project_id=? AND filled=1`, roleID, projectID); err != nil {
		return domain.Role{}, fmt.Errorf("open role: %w", err)
	}
	return r.GetRoleTx(ctx, tx, projectID, roleID)
}
