package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"teamline/internal/domain"
)

// ensureRequestTransition allows only pending -> accepted|rejected.
func ensureRequestTransition(from, to domain.RequestStatus) error {
	if from == domain.StatusPending && (to == domain.StatusAccepted || to == domain.StatusRejected) {
		return nil
	}
	return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
}

// normalizeReason trims a decline reason and enforces the minimum length,
// counted in characters.
func normalizeReason(reason string, minLen int) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", fmt.Errorf("reason is required: %w", domain.ErrInvalidReason)
	}
	if utf8.RuneCountInString(reason) < minLen {
		return "", fmt.Errorf("reason must be at least %d characters: %w", minLen, domain.ErrInvalidReason)
	}
	return reason, nil
}

// openRoleTx resolves a role reference and requires it to be open.
func (e Engine) openRoleTx(ctx context.Context, tx *sql.Tx, projectID, ref string) (domain.Role, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Role{}, fmt.Errorf("role is required: %w", domain.ErrInvalidInput)
	}
	role, err := e.Repo.ResolveRoleTx(ctx, tx, projectID, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return role, fmt.Errorf("role %q: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return role, err
	}
	if role.Filled {
		return role, fmt.Errorf("role %q: %w", role.Title, domain.ErrRoleUnavailable)
	}
	return role, nil
}

func (e Engine) createApplicationTx(ctx context.Context, tx *sql.Tx, p domain.Project, roleRef, applicantID, message string, profile *domain.UserProfile) (domain.Application, error) {
	role, err := e.openRoleTx(ctx, tx, p.ID, roleRef)
	if err != nil {
		return domain.Application{}, err
	}
	now := e.timestamp()
	a := domain.Application{
		ID:          newID(),
		ProjectID:   p.ID,
		RoleID:      role.ID,
		RoleTitle:   role.Title,
		ApplicantID: applicantID,
		Message:     message,
		Status:      domain.StatusPending,
		Applicant:   profile,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertApplicationTx(ctx, tx, a); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

func (e Engine) createInvitationTx(ctx context.Context, tx *sql.Tx, p domain.Project, roleRef, inviterID, inviteeID, message string, profile *domain.UserProfile) (domain.Invitation, error) {
	role, err := e.openRoleTx(ctx, tx, p.ID, roleRef)
	if err != nil {
		return domain.Invitation{}, err
	}
	now := e.timestamp()
	inv := domain.Invitation{
		ID:        newID(),
		ProjectID: p.ID,
		RoleID:    role.ID,
		RoleTitle: role.Title,
		InviterID: inviterID,
		InviteeID: inviteeID,
		Message:   message,
		Status:    domain.StatusPending,
		Invitee:   profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertInvitationTx(ctx, tx, inv); err != nil {
		return domain.Invitation{}, err
	}
	return inv, nil
}

// requestState is everything a transition needs: the kind-agnostic request,
// the owning project and the two chat participants.
type requestState struct {
	Request      domain.Request
	Project      domain.Project
	Participants [2]string
}

func (e Engine) requestTx(ctx context.Context, tx *sql.Tx, kind domain.RequestKind, id string) (requestState, error) {
	var st requestState
	switch kind {
	case domain.KindApplication:
		a, err := e.Repo.GetApplicationTx(ctx, tx, id)
		if err != nil {
			return st, wrapNotFound(err, "application", id)
		}
		p, err := e.projectTx(ctx, tx, a.ProjectID)
		if err != nil {
			return st, err
		}
		st = requestState{Request: a.Request(p.CreatorID), Project: p, Participants: [2]string{a.ApplicantID, p.CreatorID}}
	case domain.KindInvitation:
		inv, err := e.Repo.GetInvitationTx(ctx, tx, id)
		if err != nil {
			return st, wrapNotFound(err, "invitation", id)
		}
		p, err := e.projectTx(ctx, tx, inv.ProjectID)
		if err != nil {
			return st, err
		}
		st = requestState{Request: inv.Request(), Project: p, Participants: [2]string{inv.InviterID, inv.InviteeID}}
	default:
		return st, fmt.Errorf("unknown request kind %q: %w", kind, domain.ErrInvalidInput)
	}
	return st, nil
}

// setStatusTx moves the request to a terminal status after checking the
// transition, and updates the in-memory view to match.
func (e Engine) setStatusTx(ctx context.Context, tx *sql.Tx, st *requestState, to domain.RequestStatus, reason string) error {
	if err := ensureRequestTransition(st.Request.Status, to); err != nil {
		return err
	}
	now := e.timestamp()
	if err := e.Repo.SetRequestStatusTx(ctx, tx, st.Request.Kind, st.Request.ID, to, reason, now); err != nil {
		return err
	}
	st.Request.Status = to
	st.Request.Reason = reason
	st.Request.UpdatedAt = now
	st.Request.DecidedAt = &now
	return nil
}

func wrapNotFound(err error, what, id string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}
