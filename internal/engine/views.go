package engine

import (
	"context"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/repo"
)

// GetApplication returns an application to its applicant or the project creator.
func (e Engine) GetApplication(ctx context.Context, id, actorID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, id)
	if err != nil {
		return a, wrapNotFound(err, "application", id)
	}
	p, err := e.GetProject(ctx, a.ProjectID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := auth.CanReadRequest(p, a.Request(p.CreatorID), actorID); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// GetInvitation returns an invitation to its invitee or the project creator.
func (e Engine) GetInvitation(ctx context.Context, id, actorID string) (domain.Invitation, error) {
	inv, err := e.Repo.GetInvitation(ctx, id)
	if err != nil {
		return inv, wrapNotFound(err, "invitation", id)
	}
	p, err := e.GetProject(ctx, inv.ProjectID)
	if err != nil {
		return domain.Invitation{}, err
	}
	if err := auth.CanReadRequest(p, inv.Request(), actorID); err != nil {
		return domain.Invitation{}, err
	}
	return inv, nil
}

// GetRequest returns the kind-agnostic view of either request kind.
func (e Engine) GetRequest(ctx context.Context, kind domain.RequestKind, id, actorID string) (domain.Request, error) {
	switch kind {
	case domain.KindApplication:
		a, err := e.GetApplication(ctx, id, actorID)
		if err != nil {
			return domain.Request{}, err
		}
		p, err := e.GetProject(ctx, a.ProjectID)
		if err != nil {
			return domain.Request{}, err
		}
		return a.Request(p.CreatorID), nil
	case domain.KindInvitation:
		inv, err := e.GetInvitation(ctx, id, actorID)
		if err != nil {
			return domain.Request{}, err
		}
		return inv.Request(), nil
	}
	return domain.Request{}, wrapNotFound(domain.ErrNotFound, string(kind), id)
}

// ListProjectApplications shows the creator every application to the project;
// anyone else sees only their own.
func (e Engine) ListProjectApplications(ctx context.Context, projectID, actorID string, f repo.RequestFilters) ([]domain.Application, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireActor(auth.ActionReadRequest, actorID); err != nil {
		return nil, err
	}
	f.ProjectID = p.ID
	if actorID != p.CreatorID {
		f.UserID = actorID
	}
	return e.Repo.ListApplications(ctx, f)
}

// ListProjectInvitations shows the creator every invitation sent for the
// project; anyone else sees only invitations addressed to them.
func (e Engine) ListProjectInvitations(ctx context.Context, projectID, actorID string, f repo.RequestFilters) ([]domain.Invitation, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireActor(auth.ActionReadRequest, actorID); err != nil {
		return nil, err
	}
	f.ProjectID = p.ID
	if actorID != p.CreatorID {
		f.UserID = actorID
	}
	return e.Repo.ListInvitations(ctx, f)
}

// MyApplications lists applications the actor has filed.
func (e Engine) MyApplications(ctx context.Context, actorID string, f repo.RequestFilters) ([]domain.Application, error) {
	if err := auth.RequireActor(auth.ActionReadRequest, actorID); err != nil {
		return nil, err
	}
	f.UserID = actorID
	return e.Repo.ListApplications(ctx, f)
}

// MyInvitations lists invitations addressed to the actor.
func (e Engine) MyInvitations(ctx context.Context, actorID string, f repo.RequestFilters) ([]domain.Invitation, error) {
	if err := auth.RequireActor(auth.ActionReadRequest, actorID); err != nil {
		return nil, err
	}
	f.UserID = actorID
	return e.Repo.ListInvitations(ctx, f)
}

func (e Engine) EventLog(ctx context.Context, f repo.EventFilters, limit int, after int64) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, f, limit, after)
}
