package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
)

// autoRejectReason is recorded on a request rejected because its role was
// filled by someone else before it was accepted.
const autoRejectReason = "role already filled"

type ApplyOptions struct {
	ProjectID   string
	Roles       []string
	ApplicantID string
	Message     string
}

// ApplyFailure reports why one role of an Apply batch was not applied to.
type ApplyFailure struct {
	Role string
	Err  error
}

type ApplyResult struct {
	Applications []domain.Application
	Chats        []domain.Chat
	Failed       []ApplyFailure
}

// Apply files one application per requested role. Each role is handled in its
// own transaction, so one duplicate or filled role does not block the others.
// The call fails as a whole only when the project is missing, the applicant
// may not apply, or every role failed; in the last case the error is the
// first role's failure and the result still lists every failure.
func (e Engine) Apply(ctx context.Context, opts ApplyOptions) (ApplyResult, error) {
	var res ApplyResult
	roles := dedupe(opts.Roles)
	if len(roles) == 0 {
		return res, fmt.Errorf("at least one role is required: %w", domain.ErrInvalidInput)
	}
	if len(roles) > e.maxApplyRoles() {
		return res, fmt.Errorf("at most %d roles per application: %w", e.maxApplyRoles(), domain.ErrInvalidInput)
	}
	p, err := e.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return res, err
	}
	if err := auth.CanApply(p, opts.ApplicantID); err != nil {
		return res, err
	}
	profile := e.resolveProfile(ctx, opts.ApplicantID)
	for _, ref := range roles {
		a, chat, err := e.applyOne(ctx, p, ref, opts.ApplicantID, strings.TrimSpace(opts.Message), profile)
		if err != nil {
			res.Failed = append(res.Failed, ApplyFailure{Role: ref, Err: err})
			continue
		}
		res.Applications = append(res.Applications, a)
		res.Chats = append(res.Chats, chat)
	}
	e.Log.Info().Str("project_id", p.ID).Str("applicant_id", opts.ApplicantID).
		Int("created", len(res.Applications)).Int("failed", len(res.Failed)).Msg("apply")
	if len(res.Applications) == 0 {
		return res, res.Failed[0].Err
	}
	return res, nil
}

func (e Engine) applyOne(ctx context.Context, p domain.Project, ref, applicantID, message string, profile *domain.UserProfile) (domain.Application, domain.Chat, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, domain.Chat{}, err
	}
	defer tx.Rollback()
	out := e.outbox()
	a, err := e.createApplicationTx(ctx, tx, p, ref, applicantID, message, profile)
	if err != nil {
		return domain.Application{}, domain.Chat{}, err
	}
	chat, err := e.bindChatTx(ctx, tx, domain.KindApplication, a.ID, [2]string{applicantID, p.CreatorID}, a.Status)
	if err != nil {
		return domain.Application{}, domain.Chat{}, err
	}
	if err := out.append(ctx, tx, "application.created", p.ID, "application", a.ID, applicantID, events.EventPayload{
		"role_id":    a.RoleID,
		"role_title": a.RoleTitle,
		"chat_id":    chat.ID,
	}, applicantID, p.CreatorID); err != nil {
		return domain.Application{}, domain.Chat{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Application{}, domain.Chat{}, err
	}
	return a, chat, nil
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type InviteOptions struct {
	ProjectID string
	Role      string
	InviterID string
	InviteeID string
	Message   string
}

type InviteResult struct {
	Invitation domain.Invitation
	Chat       domain.Chat
}

// Invite creates a pending invitation from the project creator together with
// its bound chat, in one transaction.
func (e Engine) Invite(ctx context.Context, opts InviteOptions) (InviteResult, error) {
	invitee := strings.TrimSpace(opts.InviteeID)
	if invitee == "" {
		return InviteResult{}, fmt.Errorf("invitee is required: %w", domain.ErrInvalidInput)
	}
	p, err := e.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return InviteResult{}, err
	}
	if err := auth.CanInvite(p, opts.InviterID); err != nil {
		return InviteResult{}, err
	}
	if invitee == opts.InviterID {
		return InviteResult{}, fmt.Errorf("cannot invite yourself: %w", domain.ErrInvalidInput)
	}
	profile := e.resolveProfile(ctx, invitee)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return InviteResult{}, err
	}
	defer tx.Rollback()
	out := e.outbox()
	inv, err := e.createInvitationTx(ctx, tx, p, opts.Role, opts.InviterID, invitee, strings.TrimSpace(opts.Message), profile)
	if err != nil {
		return InviteResult{}, err
	}
	chat, err := e.bindChatTx(ctx, tx, domain.KindInvitation, inv.ID, [2]string{opts.InviterID, invitee}, inv.Status)
	if err != nil {
		return InviteResult{}, err
	}
	if err := out.append(ctx, tx, "invitation.created", p.ID, "invitation", inv.ID, opts.InviterID, events.EventPayload{
		"role_id":    inv.RoleID,
		"role_title": inv.RoleTitle,
		"invitee_id": invitee,
		"chat_id":    chat.ID,
	}, opts.InviterID, invitee); err != nil {
		return InviteResult{}, err
	}
	if err := out.commit(tx); err != nil {
		return InviteResult{}, err
	}
	e.Log.Info().Str("project_id", p.ID).Str("invitation_id", inv.ID).Str("invitee_id", invitee).Msg("invite")
	return InviteResult{Invitation: inv, Chat: chat}, nil
}

// Decision is the canonical state after an accept or decline.
type Decision struct {
	Request domain.Request
	Role    *domain.Role
	Chat    domain.Chat
}

func (e Engine) AcceptApplication(ctx context.Context, id, actorID string) (Decision, error) {
	return e.Accept(ctx, domain.KindApplication, id, actorID)
}

func (e Engine) AcceptInvitation(ctx context.Context, id, actorID string) (Decision, error) {
	return e.Accept(ctx, domain.KindInvitation, id, actorID)
}

// Accept fills the request's role with the requester and marks the request
// and its chat accepted, atomically. If the role was filled in the meantime
// the request is rejected instead, that rejection is committed, and
// ErrRoleAlreadyFilled is returned alongside the resulting state.
func (e Engine) Accept(ctx context.Context, kind domain.RequestKind, id, actorID string) (Decision, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, err
	}
	defer tx.Rollback()
	st, err := e.requestTx(ctx, tx, kind, id)
	if err != nil {
		return Decision{}, err
	}
	if err := auth.CanDecide(st.Request, actorID); err != nil {
		return Decision{}, err
	}
	if err := ensureRequestTransition(st.Request.Status, domain.StatusAccepted); err != nil {
		return Decision{}, fmt.Errorf("accept %s %s: %w", kind, id, err)
	}
	out := e.outbox()
	users := []string{st.Participants[0], st.Participants[1]}

	role, fillErr := e.Repo.FillRoleTx(ctx, tx, st.Project.ID, st.Request.RoleID, st.Request.UserID)
	switch {
	case errors.Is(fillErr, domain.ErrRoleAlreadyFilled):
		if err := e.setStatusTx(ctx, tx, &st, domain.StatusRejected, autoRejectReason); err != nil {
			return Decision{}, err
		}
		chat, err := e.bindChatTx(ctx, tx, kind, id, st.Participants, domain.StatusRejected)
		if err != nil {
			return Decision{}, err
		}
		if err := out.append(ctx, tx, string(kind)+".rejected", st.Project.ID, string(kind), id, actorID, events.EventPayload{
			"reason":  autoRejectReason,
			"auto":    true,
			"role_id": st.Request.RoleID,
			"chat_id": chat.ID,
		}, users...); err != nil {
			return Decision{}, err
		}
		if err := out.commit(tx); err != nil {
			return Decision{}, err
		}
		e.Log.Info().Str("kind", string(kind)).Str("request_id", id).Str("role_id", st.Request.RoleID).Msg("accept lost role race, request rejected")
		return Decision{Request: st.Request, Role: &role, Chat: chat}, fmt.Errorf("accept %s %s: %w", kind, id, domain.ErrRoleAlreadyFilled)
	case errors.Is(fillErr, domain.ErrNotFound):
		return Decision{}, fmt.Errorf("role %s: %w", st.Request.RoleID, domain.ErrNotFound)
	case fillErr != nil:
		return Decision{}, fillErr
	}

	if err := e.setStatusTx(ctx, tx, &st, domain.StatusAccepted, ""); err != nil {
		return Decision{}, err
	}
	chat, err := e.bindChatTx(ctx, tx, kind, id, st.Participants, domain.StatusAccepted)
	if err != nil {
		return Decision{}, err
	}
	if err := e.Repo.TouchProjectTx(ctx, tx, st.Project.ID, e.timestamp()); err != nil {
		return Decision{}, err
	}
	if err := out.append(ctx, tx, string(kind)+".accepted", st.Project.ID, string(kind), id, actorID, events.EventPayload{
		"role_id": role.ID,
		"chat_id": chat.ID,
	}, users...); err != nil {
		return Decision{}, err
	}
	if err := out.append(ctx, tx, "role.filled", st.Project.ID, "project", st.Project.ID, actorID, events.EventPayload{
		"role_id": role.ID,
		"user_id": st.Request.UserID,
	}, users...); err != nil {
		return Decision{}, err
	}
	if err := out.commit(tx); err != nil {
		return Decision{}, err
	}
	e.Log.Info().Str("kind", string(kind)).Str("request_id", id).Str("role_id", role.ID).Str("user_id", st.Request.UserID).Msg("request accepted")
	return Decision{Request: st.Request, Role: &role, Chat: chat}, nil
}

// Decline rejects a pending request with a reason. The role is untouched.
func (e Engine) Decline(ctx context.Context, kind domain.RequestKind, id, actorID, reason string) (Decision, error) {
	reason, err := normalizeReason(reason, e.minDeclineReason())
	if err != nil {
		return Decision{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Decision{}, err
	}
	defer tx.Rollback()
	st, err := e.requestTx(ctx, tx, kind, id)
	if err != nil {
		return Decision{}, err
	}
	if err := auth.CanDecide(st.Request, actorID); err != nil {
		return Decision{}, err
	}
	if err := e.setStatusTx(ctx, tx, &st, domain.StatusRejected, reason); err != nil {
		return Decision{}, fmt.Errorf("decline %s %s: %w", kind, id, err)
	}
	chat, err := e.bindChatTx(ctx, tx, kind, id, st.Participants, domain.StatusRejected)
	if err != nil {
		return Decision{}, err
	}
	out := e.outbox()
	if err := out.append(ctx, tx, string(kind)+".declined", st.Project.ID, string(kind), id, actorID, events.EventPayload{
		"reason":  reason,
		"chat_id": chat.ID,
	}, st.Participants[0], st.Participants[1]); err != nil {
		return Decision{}, err
	}
	if err := out.commit(tx); err != nil {
		return Decision{}, err
	}
	e.Log.Info().Str("kind", string(kind)).Str("request_id", id).Msg("request declined")
	return Decision{Request: st.Request, Chat: chat}, nil
}
