package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/directory"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/events"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

const creator = "alice"

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng := engine.New(conn, config.Default())
	eng.Hub = events.NewHub()
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	p, err := eng.CreateProject(ctx, engine.CreateProjectOptions{
		Title:     "Campus rideshare",
		CreatorID: creator,
		Tags:      []string{"mobility", "go"},
		Roles: []engine.RoleSpec{
			{Title: "Designer"},
			{Title: "Developer"},
			{Title: "Developer"},
		},
	})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

func (env testEnv) apply(t *testing.T, user string, roles ...string) domain.Application {
	t.Helper()
	res, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, Roles: roles, ApplicantID: user, Message: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Applications)
	return res.Applications[0]
}

func (env testEnv) role(t *testing.T, roleID string) domain.Role {
	t.Helper()
	p, err := env.Engine.GetProject(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	for _, r := range p.Roles {
		if r.ID == roleID {
			return r
		}
	}
	t.Fatalf("role %s not found", roleID)
	return domain.Role{}
}

func (env testEnv) chatStatus(t *testing.T, kind domain.RequestKind, id string) domain.RequestStatus {
	t.Helper()
	chat, err := env.Engine.Repo.ChatByBinding(env.Ctx, kind, id)
	require.NoError(t, err)
	require.NotNil(t, chat.Status)
	return *chat.Status
}

func TestCreateProjectKeepsRoleOrder(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.GetProject(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	require.Len(t, p.Roles, 3)
	assert.Equal(t, []string{"Designer", "Developer", "Developer"}, []string{p.Roles[0].Title, p.Roles[1].Title, p.Roles[2].Title})
	assert.Equal(t, domain.ProjectPlanning, p.Status)
	assert.Equal(t, []string{"mobility", "go"}, p.Tags)
	for _, r := range p.Roles {
		assert.False(t, r.Filled)
		assert.Nil(t, r.UserID)
	}
}

func TestApplyThenAccept(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, domain.StatusPending, env.chatStatus(t, domain.KindApplication, a.ID))

	dec, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, dec.Request.Status)
	require.NotNil(t, dec.Role)
	assert.True(t, dec.Role.Filled)
	assert.Equal(t, "bob", *dec.Role.UserID)
	require.NotNil(t, dec.Chat.Status)
	assert.Equal(t, domain.StatusAccepted, *dec.Chat.Status)

	role := env.role(t, a.RoleID)
	assert.True(t, role.Filled)
	assert.Equal(t, "bob", *role.UserID)
	stored, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, stored.Status)
	assert.NotNil(t, stored.DecidedAt)
	assert.Equal(t, domain.StatusAccepted, env.chatStatus(t, domain.KindApplication, a.ID))
}

func TestSiblingAcceptLosesRaceAndIsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	b := env.apply(t, "carol", "Designer")
	require.Equal(t, a.RoleID, b.RoleID)

	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)

	dec, err := env.Engine.AcceptApplication(env.Ctx, b.ID, creator)
	require.ErrorIs(t, err, domain.ErrRoleAlreadyFilled)
	assert.Equal(t, domain.StatusRejected, dec.Request.Status)

	stored, err := env.Engine.Repo.GetApplication(env.Ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.Equal(t, "role already filled", stored.Reason)
	assert.Equal(t, domain.StatusRejected, env.chatStatus(t, domain.KindApplication, b.ID))
	assert.Equal(t, "bob", *env.role(t, a.RoleID).UserID)

	_, err = env.Engine.AcceptApplication(env.Ctx, b.ID, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApplyToFilledRoleIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, Roles: []string{"Designer"}, ApplicantID: "carol"})
	assert.ErrorIs(t, err, domain.ErrRoleUnavailable)
}

func TestDuplicatePendingApplication(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, "bob", "Designer")
	res, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, Roles: []string{"Designer"}, ApplicantID: "bob"})
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "Designer", res.Failed[0].Role)

	pending, err := env.Engine.Repo.ListApplications(env.Ctx, repo.RequestFilters{ProjectID: env.Project.ID, UserID: "bob", Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReapplyAfterDeclineIsAllowed(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, creator, "we need more experience")
	require.NoError(t, err)
	again := env.apply(t, "bob", "Designer")
	assert.NotEqual(t, a.ID, again.ID)
}

func TestApplyPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.apply(t, "bob", "Designer")
	res, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{
		ProjectID:   env.Project.ID,
		Roles:       []string{"Designer", "Developer", "Astronaut", "Developer"},
		ApplicantID: "bob",
	})
	require.NoError(t, err)
	require.Len(t, res.Applications, 1)
	assert.Equal(t, "Developer", res.Applications[0].RoleTitle)
	assert.Equal(t, env.Project.Roles[1].ID, res.Applications[0].RoleID)
	require.Len(t, res.Chats, 1)
	require.Len(t, res.Failed, 2)
	assert.ErrorIs(t, res.Failed[0].Err, domain.ErrDuplicateRequest)
	assert.ErrorIs(t, res.Failed[1].Err, domain.ErrNotFound)
}

func TestApplyRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, ApplicantID: "bob"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: "missing", Roles: []string{"Designer"}, ApplicantID: "bob"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, Roles: []string{"Designer"}, ApplicantID: creator})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestApplyByRoleIDTargetsThatSlot(t *testing.T) {
	env := newTestEnv(t)
	second := env.Project.Roles[2]
	a := env.apply(t, "bob", second.ID)
	assert.Equal(t, second.ID, a.RoleID)

	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)
	assert.False(t, env.role(t, env.Project.Roles[1].ID).Filled)
	assert.True(t, env.role(t, second.ID).Filled)

	// The title now resolves to the remaining open slot.
	next := env.apply(t, "carol", "Developer")
	assert.Equal(t, env.Project.Roles[1].ID, next.RoleID)
}

func TestDeclineRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	for _, reason := range []string{"", "   ", "too short", "  short   "} {
		_, err := env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, creator, reason)
		assert.ErrorIs(t, err, domain.ErrInvalidReason, "reason %q", reason)
	}
	stored, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, domain.StatusPending, env.chatStatus(t, domain.KindApplication, a.ID))

	dec, err := env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, creator, "  looking for someone local  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, dec.Request.Status)
	assert.Equal(t, "looking for someone local", dec.Request.Reason)
	assert.Equal(t, domain.StatusRejected, env.chatStatus(t, domain.KindApplication, a.ID))
	assert.False(t, env.role(t, a.RoleID).Filled)
}

func TestDeclineHonorsConfiguredMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Rules.MinDeclineReason = 30
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, creator, "not a fit for this role")
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)

	_, err = env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, creator, "changed my mind entirely")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	b := env.apply(t, "carol", "Developer")
	_, err = env.Engine.Decline(env.Ctx, domain.KindApplication, b.ID, creator, "position no longer needed")
	require.NoError(t, err)
	_, err = env.Engine.AcceptApplication(env.Ctx, b.ID, creator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.False(t, env.role(t, b.RoleID).Filled)
}

func TestOnlyCreatorDecidesApplications(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = env.Engine.Decline(env.Ctx, domain.KindApplication, a.ID, "mallory", "not my call but declining anyway")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.False(t, env.role(t, a.RoleID).Filled)
}

func TestInviteFlow(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Developer", InviterID: creator, InviteeID: "dave", Message: "join us"})
	require.NoError(t, err)
	inv := res.Invitation
	assert.Equal(t, domain.StatusPending, inv.Status)
	assert.Equal(t, []string{creator, "dave"}, res.Chat.Participants)
	require.NotNil(t, res.Chat.Binding)
	assert.Equal(t, domain.KindInvitation, res.Chat.Binding.Kind)
	assert.Equal(t, domain.StatusPending, *res.Chat.Status)

	_, err = env.Engine.AcceptInvitation(env.Ctx, inv.ID, creator)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	dec, err := env.Engine.AcceptInvitation(env.Ctx, inv.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, dec.Request.Status)
	assert.Equal(t, "dave", *env.role(t, inv.RoleID).UserID)
	assert.Equal(t, domain.StatusAccepted, env.chatStatus(t, domain.KindInvitation, inv.ID))
}

func TestInviteRules(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: "bob", InviteeID: "dave"})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: creator, InviteeID: creator})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: creator, InviteeID: "dave"})
	require.NoError(t, err)
	_, err = env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: creator, InviteeID: "dave"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	_, err = env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Pilot", InviterID: creator, InviteeID: "dave"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInviteeDeclines(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: creator, InviteeID: "dave"})
	require.NoError(t, err)
	_, err = env.Engine.Decline(env.Ctx, domain.KindInvitation, res.Invitation.ID, creator, "creator cannot decline this")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	dec, err := env.Engine.Decline(env.Ctx, domain.KindInvitation, res.Invitation.ID, "dave", "busy with my thesis this term")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, dec.Request.Status)
	assert.Equal(t, domain.StatusRejected, env.chatStatus(t, domain.KindInvitation, res.Invitation.ID))
	assert.False(t, env.role(t, res.Invitation.RoleID).Filled)
}

func TestInvitationLosesToApplication(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	res, err := env.Engine.Invite(env.Ctx, engine.InviteOptions{ProjectID: env.Project.ID, Role: "Designer", InviterID: creator, InviteeID: "dave"})
	require.NoError(t, err)

	_, err = env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)
	_, err = env.Engine.AcceptInvitation(env.Ctx, res.Invitation.ID, "dave")
	require.ErrorIs(t, err, domain.ErrRoleAlreadyFilled)
	assert.Equal(t, domain.StatusRejected, env.chatStatus(t, domain.KindInvitation, res.Invitation.ID))
}

func TestReleasedRoleCanBeFilledBySibling(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	b := env.apply(t, "carol", "Designer")
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)

	_, err = env.Engine.ReleaseRole(env.Ctx, env.Project.ID, a.RoleID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	role, err := env.Engine.ReleaseRole(env.Ctx, env.Project.ID, a.RoleID, creator)
	require.NoError(t, err)
	assert.False(t, role.Filled)
	assert.Nil(t, role.UserID)

	dec, err := env.Engine.AcceptApplication(env.Ctx, b.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, "carol", *dec.Role.UserID)
}

func TestConcurrentAcceptsFillRoleOnce(t *testing.T) {
	env := newTestEnv(t)
	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = env.apply(t, fmt.Sprintf("user-%d", i), "Designer").ID
	}
	errs := make([]error, n)
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			_, errs[i] = env.Engine.AcceptApplication(env.Ctx, id, creator)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrRoleAlreadyFilled):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	accepted, err := env.Engine.Repo.ListApplications(env.Ctx, repo.RequestFilters{ProjectID: env.Project.ID, Status: domain.StatusAccepted})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, accepted[0].ApplicantID, *env.role(t, accepted[0].RoleID).UserID)
	rejected, err := env.Engine.Repo.ListApplications(env.Ctx, repo.RequestFilters{ProjectID: env.Project.ID, Status: domain.StatusRejected})
	require.NoError(t, err)
	assert.Len(t, rejected, n-1)
}

func TestConcurrentDuplicateApplies(t *testing.T) {
	env := newTestEnv(t)
	const n = 6
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, errs[i] = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProjectID: env.Project.ID, Roles: []string{"Designer"}, ApplicantID: "bob"})
			return nil
		})
	}
	require.NoError(t, g.Wait())
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	}
	assert.Equal(t, 1, ok)
}

func TestReconcileRepairsDriftedChat(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE chats SET status='pending' WHERE binding_target_id=?`, a.ID)
	require.NoError(t, err)

	report, err := env.Engine.Reconcile(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChatsMirrored)
	assert.Equal(t, domain.StatusAccepted, env.chatStatus(t, domain.KindApplication, a.ID))

	report, err = env.Engine.Reconcile(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ChatsMirrored)
}

func TestProfilesResolvedAndBackfilled(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Directory = directory.Static{"bob": {FirstName: "Bob", University: "MIT"}}
	a := env.apply(t, "bob", "Designer")
	require.NotNil(t, a.Applicant)
	assert.Equal(t, "MIT", a.Applicant.University)

	b := env.apply(t, "carol", "Designer")
	assert.Nil(t, b.Applicant)

	env.Engine.Directory = directory.Static{"carol": {FirstName: "Carol"}}
	report, err := env.Engine.Reconcile(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProfilesResolved)
	stored, err := env.Engine.Repo.GetApplication(env.Ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Applicant)
	assert.Equal(t, "Carol", stored.Applicant.FirstName)
}

func TestUnresolvableProfilesDoNotBlockBackfill(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Reconcile.BatchSize = 1

	ghost := env.apply(t, "ghost", "Designer")
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	carol := env.apply(t, "carol", "Developer")
	env.Engine.Directory = directory.Static{"carol": {FirstName: "Carol"}}

	// the older request is looked up first and cannot be resolved
	report, err := env.Engine.Reconcile(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ProfilesResolved)

	report, err = env.Engine.Reconcile(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProfilesResolved)
	stored, err := env.Engine.Repo.GetApplication(env.Ctx, carol.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Applicant)
	assert.Equal(t, "Carol", stored.Applicant.FirstName)

	refs, err := env.Engine.Repo.RequestsMissingProfile(env.Ctx, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ghost.ID, refs[0].ID)
}

func TestNotificationsPublishedAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Engine.Hub.Subscribe(events.TopicApplication, events.TopicProject)
	defer sub.Close()

	a := env.apply(t, "bob", "Designer")
	n := <-sub.C
	assert.Equal(t, "application.created", n.Type)
	assert.Equal(t, a.ID, n.EntityID)
	assert.True(t, n.Concerns("bob"))
	assert.True(t, n.Concerns(creator))
	assert.False(t, n.Concerns("mallory"))

	_, err := env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, "application.accepted", (<-sub.C).Type)
	filled := <-sub.C
	assert.Equal(t, "role.filled", filled.Type)
	assert.True(t, filled.Concerns("bob"))
	assert.True(t, filled.Concerns(creator))
	assert.False(t, filled.Concerns("mallory"))

	// A rejected command publishes nothing.
	_, _ = env.Engine.AcceptApplication(env.Ctx, a.ID, creator)
	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected notification %s", extra.Type)
	default:
	}

	evts, err := env.Engine.EventLog(env.Ctx, repo.EventFilters{ProjectID: env.Project.ID}, 100, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"project.created", "application.created", "application.accepted", "role.filled"}, types)
}

func TestChatMessaging(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	chat, err := env.Engine.ChatForRequest(env.Ctx, domain.KindApplication, a.ID, "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", creator}, chat.Participants)

	_, err = env.Engine.SendMessage(env.Ctx, chat.ID, "mallory", "hi")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = env.Engine.SendMessage(env.Ctx, chat.ID, "bob", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	m1, err := env.Engine.SendMessage(env.Ctx, chat.ID, "bob", "Here is my portfolio")
	require.NoError(t, err)
	m2, err := env.Engine.SendMessage(env.Ctx, chat.ID, creator, "Thanks, looking now")
	require.NoError(t, err)
	assert.Greater(t, m2.Seq, m1.Seq)

	msgs, err := env.Engine.ListMessages(env.Ctx, chat.ID, creator, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here is my portfolio", msgs[0].Text)
	after, err := env.Engine.ListMessages(env.Ctx, chat.ID, creator, m1.Seq, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, m2.ID, after[0].ID)

	unread, err := env.Engine.UnreadCount(env.Ctx, chat.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
	n, err := env.Engine.MarkRead(env.Ctx, chat.ID, creator)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := env.Engine.GetChat(env.Ctx, chat.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "Thanks, looking now", got.LastMessage.Text)

	// Messaging never moves the bound status.
	assert.Equal(t, domain.StatusPending, *got.Status)
}

func TestDirectChatIsUnboundAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c1, err := env.Engine.OpenDirectChat(env.Ctx, "bob", "carol")
	require.NoError(t, err)
	c2, err := env.Engine.OpenDirectChat(env.Ctx, "carol", "bob")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Nil(t, c1.Binding)
	assert.Nil(t, c1.Status)

	_, err = env.Engine.OpenDirectChat(env.Ctx, "bob", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRequestVisibility(t *testing.T) {
	env := newTestEnv(t)
	a := env.apply(t, "bob", "Designer")
	env.apply(t, "carol", "Designer")

	_, err := env.Engine.GetApplication(env.Ctx, a.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	req, err := env.Engine.GetRequest(env.Ctx, domain.KindApplication, a.ID, creator)
	require.NoError(t, err)
	assert.Equal(t, "bob", req.UserID)
	assert.Equal(t, creator, req.DeciderID)

	all, err := env.Engine.ListProjectApplications(env.Ctx, env.Project.ID, creator, repo.RequestFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	own, err := env.Engine.ListProjectApplications(env.Ctx, env.Project.ID, "carol", repo.RequestFilters{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "carol", own[0].ApplicantID)
}
