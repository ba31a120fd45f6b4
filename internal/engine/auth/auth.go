package auth

import (
	"fmt"

	"teamline/internal/domain"
)

// ForbiddenError indicates the actor may not perform an action. It matches
// domain.ErrNotAuthorized under errors.Is.
type ForbiddenError struct {
	Action  string
	ActorID string
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("%s: authenticated user required", e.Action)
	}
	return fmt.Sprintf("%s: user %s is not allowed", e.Action, e.ActorID)
}

func (e ForbiddenError) Unwrap() error {
	return domain.ErrNotAuthorized
}

const (
	ActionApply       = "application.create"
	ActionInvite      = "invitation.create"
	ActionDecide      = "request.decide"
	ActionReleaseRole = "role.release"
	ActionEditProject = "project.edit"
	ActionReadRequest = "request.read"
	ActionChat        = "chat.participate"
)

func forbid(action, actorID string) error {
	return ForbiddenError{Action: action, ActorID: actorID}
}

// RequireActor rejects anonymous commands.
func RequireActor(action, actorID string) error {
	if actorID == "" {
		return forbid(action, "")
	}
	return nil
}

// CanApply allows anyone except the project's creator to apply.
func CanApply(p domain.Project, actorID string) error {
	if err := RequireActor(ActionApply, actorID); err != nil {
		return err
	}
	if p.CreatorID == actorID {
		return forbid(ActionApply, actorID)
	}
	return nil
}

// CanInvite allows only the project creator to invite.
func CanInvite(p domain.Project, actorID string) error {
	return requireCreator(ActionInvite, p, actorID)
}

// CanEditProject allows only the project creator to change roles or status.
func CanEditProject(p domain.Project, actorID string) error {
	return requireCreator(ActionEditProject, p, actorID)
}

// CanReleaseRole allows only the project creator to reopen a filled role.
func CanReleaseRole(p domain.Project, actorID string) error {
	return requireCreator(ActionReleaseRole, p, actorID)
}

func requireCreator(action string, p domain.Project, actorID string) error {
	if err := RequireActor(action, actorID); err != nil {
		return err
	}
	if p.CreatorID != actorID {
		return forbid(action, actorID)
	}
	return nil
}

// CanDecide allows the request's decider to accept or decline it: the project
// creator for applications, the invitee for invitations.
func CanDecide(req domain.Request, actorID string) error {
	if err := RequireActor(ActionDecide, actorID); err != nil {
		return err
	}
	if req.DeciderID != actorID {
		return forbid(ActionDecide, actorID)
	}
	return nil
}

// CanReadRequest allows either party of a request to view it.
func CanReadRequest(p domain.Project, req domain.Request, actorID string) error {
	if err := RequireActor(ActionReadRequest, actorID); err != nil {
		return err
	}
	if actorID == p.CreatorID || actorID == req.UserID || actorID == req.DeciderID {
		return nil
	}
	return forbid(ActionReadRequest, actorID)
}

// CanParticipate allows chat participants to read and post.
func CanParticipate(c domain.Chat, actorID string) error {
	if err := RequireActor(ActionChat, actorID); err != nil {
		return err
	}
	if !c.HasParticipant(actorID) {
		return forbid(ActionChat, actorID)
	}
	return nil
}
