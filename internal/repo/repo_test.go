package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

const now = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertProjectTx(ctx, tx, domain.Project{
			ID: "p1", Title: "Robotics", Status: domain.ProjectPlanning, CreatorID: "alice", CreatedAt: now, UpdatedAt: now,
			Roles: []domain.Role{
				{ID: "r1", ProjectID: "p1", Title: "Engineer"},
				{ID: "r2", ProjectID: "p1", Title: "Engineer"},
				{ID: "r3", ProjectID: "p1", Title: "Lead"},
			},
		}))
	})
	return r, ctx
}

func withTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func application(id, roleID, user string) domain.Application {
	return domain.Application{
		ID: id, ProjectID: "p1", RoleID: roleID, RoleTitle: "Engineer", ApplicantID: user,
		Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
}

func TestFillRoleIsCompareAndSet(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		role, err := r.FillRoleTx(ctx, tx, "p1", "r1", "bob")
		require.NoError(t, err)
		assert.True(t, role.Filled)
		assert.Equal(t, "bob", *role.UserID)

		role, err = r.FillRoleTx(ctx, tx, "p1", "r1", "carol")
		assert.ErrorIs(t, err, domain.ErrRoleAlreadyFilled)
		assert.Equal(t, "bob", *role.UserID)

		_, err = r.FillRoleTx(ctx, tx, "p1", "missing", "carol")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestRoleFilledRequiresUser(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.DB.ExecContext(ctx, `UPDATE project_roles SET filled=1 WHERE id='r1'`)
	assert.Error(t, err)
	_, err = r.DB.ExecContext(ctx, `UPDATE project_roles SET user_id='bob' WHERE id='r1'`)
	assert.Error(t, err)
}

func TestResolveRolePrefersOpenSlot(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		role, err := r.ResolveRoleTx(ctx, tx, "p1", "Engineer")
		require.NoError(t, err)
		assert.Equal(t, "r1", role.ID)

		_, err = r.FillRoleTx(ctx, tx, "p1", "r1", "bob")
		require.NoError(t, err)
		role, err = r.ResolveRoleTx(ctx, tx, "p1", "Engineer")
		require.NoError(t, err)
		assert.Equal(t, "r2", role.ID)

		role, err = r.ResolveRoleTx(ctx, tx, "p1", "r3")
		require.NoError(t, err)
		assert.Equal(t, "Lead", role.Title)

		_, err = r.ResolveRoleTx(ctx, tx, "p1", "Janitor")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestPendingUniqueness(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a1", "r1", "bob")))
	})

	tx, err := r.DB.Begin()
	require.NoError(t, err)
	err = r.InsertApplicationTx(ctx, tx, application("a2", "r1", "bob"))
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	require.NoError(t, tx.Rollback())

	// Other slots and other applicants are independent.
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a3", "r2", "bob")))
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a4", "r1", "carol")))
	})

	// A decided request frees the slot for a new pending one.
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.SetRequestStatusTx(ctx, tx, domain.KindApplication, "a1", domain.StatusRejected, "not now, sorry", now))
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a5", "r1", "bob")))
	})
}

func TestSetRequestStatusOnlyLeavesPending(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a1", "r1", "bob")))
		require.NoError(t, r.SetRequestStatusTx(ctx, tx, domain.KindApplication, "a1", domain.StatusAccepted, "", now))

		err := r.SetRequestStatusTx(ctx, tx, domain.KindApplication, "a1", domain.StatusRejected, "too late to change", now)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		err = r.SetRequestStatusTx(ctx, tx, domain.KindApplication, "nope", domain.StatusRejected, "", now)
		assert.ErrorIs(t, err, repo.ErrNotFound)
		err = r.SetRequestStatusTx(ctx, tx, domain.RequestKind("proposal"), "a1", domain.StatusRejected, "", now)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
	a, err := r.GetApplication(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, a.Status)
	require.NotNil(t, a.DecidedAt)
	assert.Equal(t, now, *a.DecidedAt)
}

func TestBoundChatIsUniquePerRequest(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.InsertApplicationTx(ctx, tx, application("a1", "r1", "bob")))
		c1, err := r.GetOrCreateBoundChatTx(ctx, tx, "c1", domain.KindApplication, "a1", "bob", "alice", domain.StatusPending, now)
		require.NoError(t, err)
		c2, err := r.GetOrCreateBoundChatTx(ctx, tx, "c2", domain.KindApplication, "a1", "bob", "alice", domain.StatusPending, now)
		require.NoError(t, err)
		assert.Equal(t, "c1", c1.ID)
		assert.Equal(t, c1.ID, c2.ID)

		require.NoError(t, r.MirrorStatusTx(ctx, tx, "c1", domain.StatusAccepted, now))
		direct, err := r.GetOrCreateDirectChatTx(ctx, tx, "d1", "bob", "alice", now)
		require.NoError(t, err)
		assert.ErrorIs(t, r.MirrorStatusTx(ctx, tx, direct.ID, domain.StatusAccepted, now), repo.ErrNotFound)
	})

	drifts, err := r.DriftedChats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "c1", drifts[0].ChatID)
	assert.Equal(t, domain.StatusAccepted, drifts[0].ChatStatus)
	assert.Equal(t, domain.StatusPending, drifts[0].RequestStatus)
}

func TestUnboundChatCannotCarryStatus(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO chats(id,participant_a,participant_b,status,created_at,updated_at) VALUES ('x','a','b','pending',?,?)`, now, now)
	assert.Error(t, err)
}

func TestMessagesAndUnread(t *testing.T) {
	r, ctx := newRepo(t)
	withTx(t, r, func(tx *sql.Tx) {
		_, err := r.GetOrCreateDirectChatTx(ctx, tx, "d1", "bob", "alice", now)
		require.NoError(t, err)
		for i, sender := range []string{"bob", "bob", "alice"} {
			_, err := r.AppendMessageTx(ctx, tx, domain.Message{ID: string(rune('m' + i)), ChatID: "d1", SenderID: sender, Text: "hi", CreatedAt: now})
			require.NoError(t, err)
		}
	})
	n, err := r.UnreadCount(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	changed, err := r.MarkRead(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, changed)
	n, err = r.UnreadCount(ctx, "d1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := r.ListMessages(ctx, "d1", 0, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
	assert.True(t, msgs[0].Read)

	chats, err := r.ListChats(ctx, repo.ChatFilters{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "alice", chats[0].LastMessage.SenderID)
}
