package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"teamline/internal/domain"
)

const chatColumns = `id,participant_a,participant_b,binding_kind,binding_target_id,status,last_sender_id,last_text,last_at,created_at,updated_at`

func scanChat(row interface{ Scan(...any) error }) (domain.Chat, error) {
	var c domain.Chat
	var a, b string
	var kind, target, status, lastSender, lastText, lastAt sql.NullString
	err := row.Scan(&c.ID, &a, &b, &kind, &target, &status, &lastSender, &lastText, &lastAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Participants = []string{a, b}
	if kind.Valid {
		c.Binding = &domain.ChatBinding{Kind: domain.RequestKind(kind.String), TargetID: target.String}
	}
	if status.Valid {
		s := domain.RequestStatus(status.String)
		c.Status = &s
	}
	if lastAt.Valid {
		c.LastMessage = &domain.MessageSummary{SenderID: lastSender.String, Text: lastText.String, CreatedAt: lastAt.String}
	}
	return c, nil
}

func (r Repo) GetChat(ctx context.Context, id string) (domain.Chat, error) {
	return scanChat(r.DB.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id=?`, id))
}

func (r Repo) GetChatTx(ctx context.Context, tx *sql.Tx, id string) (domain.Chat, error) {
	return scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id=?`, id))
}

func (r Repo) ChatByBinding(ctx context.Context, kind domain.RequestKind, targetID string) (domain.Chat, error) {
	return scanChat(r.DB.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE binding_kind=? AND binding_target_id=?`, kind, targetID))
}

func (r Repo) ChatByBindingTx(ctx context.Context, tx *sql.Tx, kind domain.RequestKind, targetID string) (domain.Chat, error) {
	return scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE binding_kind=? AND binding_target_id=?`, kind, targetID))
}

// GetOrCreateBoundChatTx returns the chat bound to (kind, targetID), creating
// it with the given participants and status when absent. Calling it twice for
// the same binding yields the same chat.
func (r Repo) GetOrCreateBoundChatTx(ctx context.Context, tx *sql.Tx, id string, kind domain.RequestKind, targetID, a, b string, status domain.RequestStatus, now string) (domain.Chat, error) {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chats(id,participant_a,participant_b,binding_kind,binding_target_id,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`, id, a, b, kind, targetID, status, now, now)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("create bound chat: %w", err)
	}
	return r.ChatByBindingTx(ctx, tx, kind, targetID)
}

// GetOrCreateDirectChatTx returns the unbound chat between two users. The pair
// is stored sorted so either side resolves the same row.
func (r Repo) GetOrCreateDirectChatTx(ctx context.Context, tx *sql.Tx, id, a, b, now string) (domain.Chat, error) {
	if b < a {
		a, b = b, a
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chats(id,participant_a,participant_b,created_at,updated_at) VALUES (?,?,?,?,?)`, id, a, b, now, now); err != nil {
		return domain.Chat{}, fmt.Errorf("create direct chat: %w", err)
	}
	return scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE participant_a=? AND participant_b=? AND binding_kind IS NULL`, a, b))
}

// MirrorStatusTx copies a request status onto its bound chat. Unbound chats
// never carry a status and are left alone.
func (r Repo) MirrorStatusTx(ctx context.Context, tx *sql.Tx, chatID string, status domain.RequestStatus, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE chats SET status=?, updated_at=? WHERE id=? AND binding_kind IS NOT NULL`, status, now, chatID)
	if err != nil {
		return fmt.Errorf("mirror chat status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessageTx stores a message and refreshes the chat's last-message summary.
func (r Repo) AppendMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) (domain.Message, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO messages(id,chat_id,sender_id,text,read,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.ChatID, m.SenderID, m.Text, boolInt(m.Read), m.CreatedAt)
	if err != nil {
		return m, fmt.Errorf("insert message: %w", err)
	}
	if m.Seq, err = res.LastInsertId(); err != nil {
		return m, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET last_sender_id=?, last_text=?, last_at=?, updated_at=? WHERE id=?`,
		m.SenderID, m.Text, m.CreatedAt, m.CreatedAt, m.ChatID); err != nil {
		return m, fmt.Errorf("update chat summary: %w", err)
	}
	return m, nil
}

// ListMessages returns messages after the given sequence number in send order.
func (r Repo) ListMessages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,chat_id,sender_id,text,read,created_at FROM messages
WHERE chat_id=? AND seq>? ORDER BY seq ASC LIMIT ?`, chatID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var read int
		if err := rows.Scan(&m.Seq, &m.ID, &m.ChatID, &m.SenderID, &m.Text, &read, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Read = read == 1
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkRead flags every message in the chat not sent by readerID as read and
// returns how many changed.
func (r Repo) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE messages SET read=1 WHERE chat_id=? AND sender_id<>? AND read=0`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) UnreadCount(ctx context.Context, chatID, readerID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id=? AND sender_id<>? AND read=0`, chatID, readerID).Scan(&n)
	return n, err
}

// ChatFilters narrows ListChats. Status only matches bound chats.
type ChatFilters struct {
	UserID string
	Status domain.RequestStatus
	Limit  int
}

func (r Repo) ListChats(ctx context.Context, f ChatFilters) ([]domain.Chat, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "(participant_a=? OR participant_b=?)")
		args = append(args, f.UserID, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query, args := limitClause(`SELECT `+chatColumns+` FROM chats WHERE `+strings.Join(clauses, " AND ")+` ORDER BY updated_at DESC, id DESC`, args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ChatDrift is a bound chat whose status disagrees with its request.
type ChatDrift struct {
	ChatID        string
	Kind          domain.RequestKind
	TargetID      string
	ProjectID     string
	ChatStatus    domain.RequestStatus
	RequestStatus domain.RequestStatus
}

// DriftedChats lists bound chats whose mirrored status differs from the
// status of the request they are bound to.
func (r Repo) DriftedChats(ctx context.Context, limit int) ([]ChatDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id, c.binding_kind, c.binding_target_id, a.project_id, COALESCE(c.status,''), a.status
FROM chats c JOIN applications a ON c.binding_kind='application' AND a.id=c.binding_target_id
WHERE c.status IS NULL OR c.status<>a.status
UNION ALL
SELECT c.id, c.binding_kind, c.binding_target_id, i.project_id, COALESCE(c.status,''), i.status
FROM chats c JOIN invitations i ON c.binding_kind='invitation' AND i.id=c.binding_target_id
WHERE c.status IS NULL OR c.status<>i.status
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ChatDrift
	for rows.Next() {
		var d ChatDrift
		if err := rows.Scan(&d.ChatID, &d.Kind, &d.TargetID, &d.ProjectID, &d.ChatStatus, &d.RequestStatus); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
