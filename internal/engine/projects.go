package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
	"teamline/internal/repo"
)

// RoleSpec describes a role when creating a project or adding to one.
type RoleSpec struct {
	Title       string
	Description string
}

type CreateProjectOptions struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	Status      string
	CreatorID   string
	Roles       []RoleSpec
}

func validProjectStatus(s string) bool {
	switch s {
	case domain.ProjectPlanning, domain.ProjectInProgress, domain.ProjectCompleted:
		return true
	}
	return false
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	if err := auth.RequireActor(auth.ActionEditProject, opts.CreatorID); err != nil {
		return domain.Project{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Project{}, fmt.Errorf("title is required: %w", domain.ErrInvalidInput)
	}
	if opts.Status == "" {
		opts.Status = domain.ProjectPlanning
	}
	if !validProjectStatus(opts.Status) {
		return domain.Project{}, fmt.Errorf("unknown project status %q: %w", opts.Status, domain.ErrInvalidInput)
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          id,
		Title:       title,
		Description: opts.Description,
		Tags:        normalizeTags(opts.Tags),
		Status:      opts.Status,
		CreatorID:   opts.CreatorID,
		Roles:       []domain.Role{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, spec := range opts.Roles {
		role, err := newRole(p.ID, spec)
		if err != nil {
			return domain.Project{}, err
		}
		p.Roles = append(p.Roles, role)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	out := e.outbox()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := out.append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.CreatorID, events.EventPayload{
		"title": p.Title,
		"roles": len(p.Roles),
	}); err != nil {
		return domain.Project{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Project{}, err
	}
	e.Log.Info().Str("project_id", p.ID).Str("creator_id", p.CreatorID).Int("roles", len(p.Roles)).Msg("project created")
	return p, nil
}

func newRole(projectID string, spec RoleSpec) (domain.Role, error) {
	title := strings.TrimSpace(spec.Title)
	if title == "" {
		return domain.Role{}, fmt.Errorf("role title is required: %w", domain.ErrInvalidInput)
	}
	return domain.Role{
		ID:          newID(),
		ProjectID:   projectID,
		Title:       title,
		Description: spec.Description,
	}, nil
}

func normalizeTags(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return p, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return p, err
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, f)
}

// AddRole appends an open role to the project.
func (e Engine) AddRole(ctx context.Context, projectID, actorID string, spec RoleSpec) (domain.Role, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	p, err := e.projectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Role{}, err
	}
	if err := auth.CanEditProject(p, actorID); err != nil {
		return domain.Role{}, err
	}
	role, err := newRole(p.ID, spec)
	if err != nil {
		return domain.Role{}, err
	}
	out := e.outbox()
	now := e.timestamp()
	if err := e.Repo.AppendRoleTx(ctx, tx, role); err != nil {
		return domain.Role{}, err
	}
	if err := e.Repo.TouchProjectTx(ctx, tx, p.ID, now); err != nil {
		return domain.Role{}, err
	}
	if err := out.append(ctx, tx, "role.added", p.ID, "project", p.ID, actorID, events.EventPayload{"role_id": role.ID, "title": role.Title}); err != nil {
		return domain.Role{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

// ReleaseRole reopens a filled role, as when a member leaves the team.
// Requests that lost to the previous holder stay rejected; pending siblings
// become acceptable again.
func (e Engine) ReleaseRole(ctx context.Context, projectID, roleID, actorID string) (domain.Role, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	p, err := e.projectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Role{}, err
	}
	if err := auth.CanReleaseRole(p, actorID); err != nil {
		return domain.Role{}, err
	}
	before, err := e.Repo.GetRoleTx(ctx, tx, p.ID, roleID)
	if err != nil {
		return domain.Role{}, fmt.Errorf("role %s: %w", roleID, err)
	}
	role, err := e.Repo.OpenRoleTx(ctx, tx, p.ID, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	if !before.Filled {
		return role, nil
	}
	out := e.outbox()
	if err := e.Repo.TouchProjectTx(ctx, tx, p.ID, e.timestamp()); err != nil {
		return domain.Role{}, err
	}
	if err := out.append(ctx, tx, "role.released", p.ID, "project", p.ID, actorID, events.EventPayload{
		"role_id": role.ID,
		"user_id": *before.UserID,
	}, p.CreatorID, *before.UserID); err != nil {
		return domain.Role{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (e Engine) SetProjectStatus(ctx context.Context, projectID, actorID, status string) (domain.Project, error) {
	if !validProjectStatus(status) {
		return domain.Project{}, fmt.Errorf("unknown project status %q: %w", status, domain.ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := e.projectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.CanEditProject(p, actorID); err != nil {
		return domain.Project{}, err
	}
	out := e.outbox()
	now := e.timestamp()
	if err := e.Repo.UpdateProjectStatusTx(ctx, tx, p.ID, status, now); err != nil {
		return domain.Project{}, err
	}
	if err := out.append(ctx, tx, "project.status", p.ID, "project", p.ID, actorID, events.EventPayload{"from": p.Status, "to": status}); err != nil {
		return domain.Project{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Project{}, err
	}
	p.Status = status
	p.UpdatedAt = now
	return p, nil
}

func (e Engine) projectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return p, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return p, err
}
