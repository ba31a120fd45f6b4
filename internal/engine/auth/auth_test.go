package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"teamline/internal/domain"
)

func TestRules(t *testing.T) {
	p := domain.Project{ID: "p-1", CreatorID: "alice"}
	app := domain.Application{ID: "a-1", ApplicantID: "bob"}.Request(p.CreatorID)
	inv := domain.Invitation{ID: "i-1", InviterID: "alice", InviteeID: "carol"}.Request()
	chat := domain.Chat{Participants: []string{"alice", "bob"}}

	assert.NoError(t, CanApply(p, "bob"))
	assert.ErrorIs(t, CanApply(p, "alice"), domain.ErrNotAuthorized)
	assert.ErrorIs(t, CanApply(p, ""), domain.ErrNotAuthorized)

	assert.NoError(t, CanInvite(p, "alice"))
	assert.ErrorIs(t, CanInvite(p, "bob"), domain.ErrNotAuthorized)

	assert.NoError(t, CanDecide(app, "alice"))
	assert.ErrorIs(t, CanDecide(app, "bob"), domain.ErrNotAuthorized)
	assert.NoError(t, CanDecide(inv, "carol"))
	assert.ErrorIs(t, CanDecide(inv, "alice"), domain.ErrNotAuthorized)

	assert.NoError(t, CanReadRequest(p, app, "bob"))
	assert.NoError(t, CanReadRequest(p, inv, "alice"))
	assert.ErrorIs(t, CanReadRequest(p, inv, "mallory"), domain.ErrNotAuthorized)

	assert.NoError(t, CanParticipate(chat, "bob"))
	assert.ErrorIs(t, CanParticipate(chat, "carol"), domain.ErrNotAuthorized)

	assert.NoError(t, CanReleaseRole(p, "alice"))
	assert.ErrorIs(t, CanEditProject(p, "bob"), domain.ErrNotAuthorized)
}

func TestForbiddenErrorMessage(t *testing.T) {
	err := CanInvite(domain.Project{CreatorID: "alice"}, "bob")
	var fe ForbiddenError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, ActionInvite, fe.Action)
	assert.Equal(t, "invitation.create: user bob is not allowed", err.Error())
}
