package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/repo"
)

type RequestPath struct {
	Kind string `path:"kind" enum:"application,invitation"`
	ID   string `path:"id"`
}

type RequestListQuery struct {
	Status string `query:"status" enum:"pending,accepted,rejected"`
	RoleID string `query:"role_id"`
	Limit  int    `query:"limit" default:"50"`
	Cursor string `query:"cursor"`
}

func (q RequestListQuery) filters() (repo.RequestFilters, int, huma.StatusError) {
	ts, id, err := parseCompositeCursor(q.Cursor)
	if err != nil {
		return repo.RequestFilters{}, 0, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"cursor": q.Cursor})
	}
	limit := normalizeLimit(q.Limit)
	return repo.RequestFilters{
		RoleID:          q.RoleID,
		Status:          domain.RequestStatus(q.Status),
		Limit:           limit + 1,
		CursorCreatedAt: ts,
		CursorID:        id,
	}, limit, nil
}

func pageApplications(items []domain.Application, limit int) paginatedApplications {
	resp := paginatedApplications{Items: nonNilSlice(items)}
	if len(items) > limit {
		last := items[limit-1]
		resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		resp.Items = items[:limit]
	}
	return resp
}

func pageInvitations(items []domain.Invitation, limit int) paginatedInvitations {
	resp := paginatedInvitations{Items: nonNilSlice(items)}
	if len(items) > limit {
		last := items[limit-1]
		resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		resp.Items = items[:limit]
	}
	return resp
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/applications",
		Summary:       "Apply to one or more roles",
		Description:   "Each role is applied to independently. Roles that could not be applied to are listed under failed.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      ApplyRequest `json:"body"`
	}) (*output[ApplyResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Apply(ctx, engine.ApplyOptions{
			ProjectID:   input.ProjectID,
			Roles:       input.Body.Roles,
			ApplicantID: userID,
			Message:     input.Body.Message,
		})
		if err != nil {
			se := handleError(err)
			if ae, ok := se.(*apiError); ok && len(res.Failed) > 0 {
				ae.Body.Details = map[string]any{"failed": applyResponse(res).Failed}
			}
			return nil, se
		}
		return respond(applyResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-applications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/applications",
		Summary:     "List applications to a project",
		Description: "The project creator sees every application; other users see only their own.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RequestListQuery
	}) (*output[paginatedApplications], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, ferr := input.filters()
		if ferr != nil {
			return nil, ferr
		}
		items, err := e.ListProjectApplications(ctx, input.ProjectID, userID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pageApplications(items, limit)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "invite",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/invitations",
		Summary:       "Invite a user to a role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      InviteRequest `json:"body"`
	}) (*output[InviteResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Invite(ctx, engine.InviteOptions{
			ProjectID: input.ProjectID,
			Role:      input.Body.Role,
			InviterID: userID,
			InviteeID: input.Body.InviteeID,
			Message:   input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(InviteResponse{Invitation: res.Invitation, Chat: res.Chat}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-invitations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/invitations",
		Summary:     "List invitations for a project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RequestListQuery
	}) (*output[paginatedInvitations], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, ferr := input.filters()
		if ferr != nil {
			return nil, ferr
		}
		items, err := e.ListProjectInvitations(ctx, input.ProjectID, userID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pageInvitations(items, limit)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-applications",
		Method:      http.MethodGet,
		Path:        "/me/applications",
		Summary:     "Applications filed by the current user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *RequestListQuery) (*output[paginatedApplications], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, ferr := input.filters()
		if ferr != nil {
			return nil, ferr
		}
		items, err := e.MyApplications(ctx, userID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pageApplications(items, limit)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-invitations",
		Method:      http.MethodGet,
		Path:        "/me/invitations",
		Summary:     "Invitations addressed to the current user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *RequestListQuery) (*output[paginatedInvitations], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, limit, ferr := input.filters()
		if ferr != nil {
			return nil, ferr
		}
		items, err := e.MyInvitations(ctx, userID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(pageInvitations(items, limit)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{kind}/{id}",
		Summary:     "Get an application or invitation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *RequestPath) (*output[domain.Request], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		req, err := e.GetRequest(ctx, kind, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(req), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-chat",
		Method:      http.MethodGet,
		Path:        "/requests/{kind}/{id}/chat",
		Summary:     "Get the chat bound to a request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *RequestPath) (*output[domain.Chat], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		chat, err := e.ChatForRequest(ctx, kind, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(chat), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-request",
		Method:      http.MethodPost,
		Path:        "/requests/{kind}/{id}/accept",
		Summary:     "Accept a pending request",
		Description: "Fills the role and marks the request and its chat accepted. If the role was filled meanwhile the request is rejected and 409 role_already_filled is returned.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *RequestPath) (*output[DecisionResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		d, err := e.Accept(ctx, kind, input.ID, userID)
		if err != nil {
			se := handleError(err)
			if ae, ok := se.(*apiError); ok && errors.Is(err, domain.ErrRoleAlreadyFilled) {
				ae.Body.Details = map[string]any{
					"request_status": d.Request.Status,
					"role_id":        d.Request.RoleID,
					"chat_id":        d.Chat.ID,
				}
			}
			return nil, se
		}
		return respond(decisionResponse(d)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-request",
		Method:      http.MethodPost,
		Path:        "/requests/{kind}/{id}/decline",
		Summary:     "Decline a pending request with a reason",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body DeclineRequest `json:"body"`
	}) (*output[DecisionResponse], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		d, err := e.Decline(ctx, kind, input.ID, userID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(decisionResponse(d)), nil
	})
}
