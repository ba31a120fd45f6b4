package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"teamline/internal/directory"
	"teamline/internal/domain"
	"teamline/internal/events"
	"teamline/internal/repo"
)

const defaultReconcileBatch = 100

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	ChatsMirrored    int `json:"chats_mirrored"`
	ProfilesResolved int `json:"profiles_resolved"`
}

func (e Engine) reconcileBatch() int {
	if e.Config != nil && e.Config.Reconcile.BatchSize > 0 {
		return e.Config.Reconcile.BatchSize
	}
	return defaultReconcileBatch
}

// Reconcile repairs state that can drift outside the coordinator: bound
// chats whose status no longer matches their request, and requests whose
// profile lookup failed at creation time.
func (e Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	drifts, err := e.Repo.DriftedChats(ctx, e.reconcileBatch())
	if err != nil {
		return report, err
	}
	for _, d := range drifts {
		fixed, err := e.remirror(ctx, d)
		if err != nil {
			return report, err
		}
		if fixed {
			report.ChatsMirrored++
		}
	}

	refs, err := e.Repo.RequestsMissingProfile(ctx, e.reconcileBatch())
	if err != nil {
		return report, err
	}
	if len(refs) == 0 {
		return report, nil
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.UserID)
	}
	profiles := directory.Lookup(ctx, e.Directory, e.directoryTimeout(), e.Log, ids...)
	now := e.timestamp()
	for _, ref := range refs {
		p, ok := profiles[ref.UserID]
		if !ok {
			if err := e.Repo.MarkProfileAttempted(ctx, ref.Kind, ref.ID, now); err != nil {
				return report, err
			}
			continue
		}
		if err := e.Repo.SetRequestProfile(ctx, ref.Kind, ref.ID, p); err != nil {
			return report, err
		}
		report.ProfilesResolved++
	}
	return report, nil
}

// remirror re-reads the request inside a transaction and copies its status
// onto the chat, so a concurrent transition cannot be overwritten with stale data.
func (e Engine) remirror(ctx context.Context, d repo.ChatDrift) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	st, err := e.requestTx(ctx, tx, d.Kind, d.TargetID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	chat, err := e.Repo.GetChatTx(ctx, tx, d.ChatID)
	if err != nil {
		return false, err
	}
	if chat.Status != nil && *chat.Status == st.Request.Status {
		return false, nil
	}
	out := e.outbox()
	if err := e.Repo.MirrorStatusTx(ctx, tx, chat.ID, st.Request.Status, e.timestamp()); err != nil {
		return false, err
	}
	if err := out.append(ctx, tx, "chat.reconciled", st.Project.ID, "chat", chat.ID, "system", events.EventPayload{
		"from": d.ChatStatus,
		"to":   st.Request.Status,
	}, chat.Participants...); err != nil {
		return false, err
	}
	if err := out.commit(tx); err != nil {
		return false, err
	}
	e.Log.Warn().Str("chat_id", chat.ID).Str("kind", string(d.Kind)).Str("request_id", d.TargetID).
		Str("from", string(d.ChatStatus)).Str("to", string(st.Request.Status)).Msg("chat status re-mirrored")
	return true, nil
}

// Reconciler runs Reconcile on an interval until its context ends.
type Reconciler struct {
	Engine   Engine
	Interval time.Duration
	Log      zerolog.Logger
}

func (r Reconciler) Run(ctx context.Context) {
	if r.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r Reconciler) runOnce(ctx context.Context) {
	report, err := r.Engine.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.Log.Error().Err(err).Msg("reconcile pass failed")
		}
		return
	}
	if report.ChatsMirrored > 0 || report.ProfilesResolved > 0 {
		r.Log.Info().Int("chats_mirrored", report.ChatsMirrored).Int("profiles_resolved", report.ProfilesResolved).Msg("reconcile pass")
	}
}
