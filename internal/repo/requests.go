package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"teamline/internal/domain"
)

const applicationColumns = `id,project_id,role_id,role_title,applicant_id,COALESCE(message,''),status,COALESCE(reason,''),applicant_json,created_at,updated_at,decided_at`

const invitationColumns = `id,project_id,role_id,role_title,inviter_id,invitee_id,COALESCE(message,''),status,COALESCE(reason,''),invitee_json,created_at,updated_at,decided_at`

func requestTable(kind domain.RequestKind) (string, error) {
	switch kind {
	case domain.KindApplication:
		return "applications", nil
	case domain.KindInvitation:
		return "invitations", nil
	}
	return "", fmt.Errorf("unknown request kind %q: %w", kind, domain.ErrInvalidInput)
}

func scanApplication(row interface{ Scan(...any) error }) (domain.Application, error) {
	var a domain.Application
	var profile, decided sql.NullString
	err := row.Scan(&a.ID, &a.ProjectID, &a.RoleID, &a.RoleTitle, &a.ApplicantID, &a.Message, &a.Status, &a.Reason, &profile, &a.CreatedAt, &a.UpdatedAt, &decided)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Applicant = unmarshalProfile(profile)
	a.DecidedAt = stringPtr(decided)
	return a, nil
}

func scanInvitation(row interface{ Scan(...any) error }) (domain.Invitation, error) {
	var i domain.Invitation
	var profile, decided sql.NullString
	err := row.Scan(&i.ID, &i.ProjectID, &i.RoleID, &i.RoleTitle, &i.InviterID, &i.InviteeID, &i.Message, &i.Status, &i.Reason, &profile, &i.CreatedAt, &i.UpdatedAt, &decided)
	if errors.Is(err, sql.ErrNoRows) {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.Invitee = unmarshalProfile(profile)
	i.DecidedAt = stringPtr(decided)
	return i, nil
}

// InsertApplicationTx records a pending application. A second pending
// application for the same project, role and applicant trips the partial
// unique index and is reported as ErrDuplicateRequest.
func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	profile, err := marshalProfile(a.Applicant)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO applications(id,project_id,role_id,role_title,applicant_id,message,status,reason,applicant_json,created_at,updated_at,decided_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.RoleID, a.RoleTitle, a.ApplicantID, nullable(a.Message), a.Status, nullable(a.Reason), profile, a.CreatedAt, a.UpdatedAt, nullableStringPtr(a.DecidedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("application for role %s by %s: %w", a.RoleTitle, a.ApplicantID, domain.ErrDuplicateRequest)
	}
	return err
}

// InsertInvitationTx records a pending invitation; duplicates map to ErrDuplicateRequest.
func (r Repo) InsertInvitationTx(ctx context.Context, tx *sql.Tx, i domain.Invitation) error {
	profile, err := marshalProfile(i.Invitee)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO invitations(id,project_id,role_id,role_title,inviter_id,invitee_id,message,status,reason,invitee_json,created_at,updated_at,decided_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.ProjectID, i.RoleID, i.RoleTitle, i.InviterID, i.InviteeID, nullable(i.Message), i.Status, nullable(i.Reason), profile, i.CreatedAt, i.UpdatedAt, nullableStringPtr(i.DecidedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("invitation for role %s to %s: %w", i.RoleTitle, i.InviteeID, domain.ErrDuplicateRequest)
	}
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	return scanApplication(tx.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

func (r Repo) GetInvitation(ctx context.Context, id string) (domain.Invitation, error) {
	return scanInvitation(r.DB.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=?`, id))
}

func (r Repo) GetInvitationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Invitation, error) {
	return scanInvitation(tx.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=?`, id))
}

// SetRequestStatusTx moves a pending request to a terminal status. The update
// is conditional on the row still being pending; a terminal row yields
// ErrInvalidTransition, a missing one ErrNotFound.
func (r Repo) SetRequestStatusTx(ctx context.Context, tx *sql.Tx, kind domain.RequestKind, id string, status domain.RequestStatus, reason, now string) error {
	table, err := requestTable(kind)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status=?, reason=?, updated_at=?, decided_at=? WHERE id=? AND status='pending'`, table),
		status, nullable(reason), now, now, id)
	if err != nil {
		return fmt.Errorf("set %s status: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var current domain.RequestStatus
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id=?`, table), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s is %s: %w", kind, id, current, domain.ErrInvalidTransition)
}

// SetRequestProfile back-fills the denormalized user profile on a request.
func (r Repo) SetRequestProfile(ctx context.Context, kind domain.RequestKind, id string, p domain.UserProfile) error {
	table, err := requestTable(kind)
	if err != nil {
		return err
	}
	column := "applicant_json"
	if kind == domain.KindInvitation {
		column = "invitee_json"
	}
	data, err := marshalProfile(&p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s=? WHERE id=?`, table, column), data, id)
	return err
}

// RequestFilters narrows request listings. UserID matches the applicant for
// applications and the invitee for invitations.
type RequestFilters struct {
	ProjectID       string
	UserID          string
	RoleID          string
	Status          domain.RequestStatus
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f RequestFilters) where(userColumn string) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.UserID != "" {
		clauses = append(clauses, userColumn+"=?")
		args = append(args, f.UserID)
	}
	if f.RoleID != "" {
		clauses = append(clauses, "role_id=?")
		args = append(args, f.RoleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListApplications(ctx context.Context, f RequestFilters) ([]domain.Application, error) {
	where, args := f.where("applicant_id")
	query, args := limitClause(`SELECT `+applicationColumns+` FROM applications `+where+` ORDER BY created_at DESC, id DESC`, args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListInvitations(ctx context.Context, f RequestFilters) ([]domain.Invitation, error) {
	where, args := f.where("invitee_id")
	query, args := limitClause(`SELECT `+invitationColumns+` FROM invitations `+where+` ORDER BY created_at DESC, id DESC`, args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invitation
	for rows.Next() {
		i, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// RequestRef identifies a request that needs its profile back-filled.
type RequestRef struct {
	Kind   domain.RequestKind
	ID     string
	UserID string
}

// RequestsMissingProfile lists requests whose denormalized profile was never
// resolved. Rows never attempted come first, then the least recently
// attempted, so unresolvable users cannot hold the head of the queue.
func (r Repo) RequestsMissingProfile(ctx context.Context, limit int) ([]RequestRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT 'application', id, applicant_id, COALESCE(profile_attempted_at,''), created_at FROM applications WHERE applicant_json IS NULL
UNION ALL
SELECT 'invitation', id, invitee_id, COALESCE(profile_attempted_at,''), created_at FROM invitations WHERE invitee_json IS NULL
ORDER BY 4 ASC, 5 ASC, 2 ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RequestRef
	for rows.Next() {
		var ref RequestRef
		var attempted, created string
		if err := rows.Scan(&ref.Kind, &ref.ID, &ref.UserID, &attempted, &created); err != nil {
			return nil, err
		}
		res = append(res, ref)
	}
	return res, rows.Err()
}

// MarkProfileAttempted records a failed profile lookup so the request moves
// to the back of the reconcile queue.
func (r Repo) MarkProfileAttempted(ctx context.Context, kind domain.RequestKind, id, at string) error {
	table, err := requestTable(kind)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET profile_attempted_at=? WHERE id=?`, table), at, id)
	return err
}
