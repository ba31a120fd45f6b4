package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
	"teamline/internal/repo"
)

const maxMessageLength = 4000

// bindChatTx returns the chat bound to a request, creating it if needed, and
// makes its status match status. It is the only path that writes a bound
// chat's status.
func (e Engine) bindChatTx(ctx context.Context, tx *sql.Tx, kind domain.RequestKind, targetID string, participants [2]string, status domain.RequestStatus) (domain.Chat, error) {
	now := e.timestamp()
	chat, err := e.Repo.GetOrCreateBoundChatTx(ctx, tx, newID(), kind, targetID, participants[0], participants[1], status, now)
	if err != nil {
		return domain.Chat{}, err
	}
	if chat.Status != nil && *chat.Status == status {
		return chat, nil
	}
	if err := e.Repo.MirrorStatusTx(ctx, tx, chat.ID, status, now); err != nil {
		return domain.Chat{}, err
	}
	chat.Status = &status
	chat.UpdatedAt = now
	return chat, nil
}

func (e Engine) chatForActor(ctx context.Context, chatID, actorID string) (domain.Chat, error) {
	chat, err := e.Repo.GetChat(ctx, chatID)
	if err != nil {
		return chat, wrapNotFound(err, "chat", chatID)
	}
	if err := auth.CanParticipate(chat, actorID); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (e Engine) GetChat(ctx context.Context, chatID, actorID string) (domain.Chat, error) {
	return e.chatForActor(ctx, chatID, actorID)
}

// ChatForRequest returns the chat bound to a request, visible to its two parties.
func (e Engine) ChatForRequest(ctx context.Context, kind domain.RequestKind, requestID, actorID string) (domain.Chat, error) {
	chat, err := e.Repo.ChatByBinding(ctx, kind, requestID)
	if err != nil {
		return chat, wrapNotFound(err, "chat for "+string(kind), requestID)
	}
	if err := auth.CanParticipate(chat, actorID); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (e Engine) ListChats(ctx context.Context, actorID string, status domain.RequestStatus, limit int) ([]domain.Chat, error) {
	if err := auth.RequireActor(auth.ActionChat, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListChats(ctx, repo.ChatFilters{UserID: actorID, Status: status, Limit: limit})
}

// OpenDirectChat returns the unbound chat between actor and peer, creating it once.
func (e Engine) OpenDirectChat(ctx context.Context, actorID, peerID string) (domain.Chat, error) {
	if err := auth.RequireActor(auth.ActionChat, actorID); err != nil {
		return domain.Chat{}, err
	}
	peerID = strings.TrimSpace(peerID)
	if peerID == "" || peerID == actorID {
		return domain.Chat{}, fmt.Errorf("a different peer is required: %w", domain.ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Chat{}, err
	}
	defer tx.Rollback()
	chat, err := e.Repo.GetOrCreateDirectChatTx(ctx, tx, newID(), actorID, peerID, e.timestamp())
	if err != nil {
		return domain.Chat{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

// SendMessage appends a message from a participant.
func (e Engine) SendMessage(ctx context.Context, chatID, senderID, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, fmt.Errorf("message text is required: %w", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return domain.Message{}, fmt.Errorf("message exceeds %d characters: %w", maxMessageLength, domain.ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	chat, err := e.Repo.GetChatTx(ctx, tx, chatID)
	if err != nil {
		return domain.Message{}, wrapNotFound(err, "chat", chatID)
	}
	if err := auth.CanParticipate(chat, senderID); err != nil {
		return domain.Message{}, err
	}
	out := e.outbox()
	msg, err := e.Repo.AppendMessageTx(ctx, tx, domain.Message{
		ID:        newID(),
		ChatID:    chat.ID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: e.timestamp(),
	})
	if err != nil {
		return domain.Message{}, err
	}
	if err := out.append(ctx, tx, "chat.message", "", "chat", chat.ID, senderID, events.EventPayload{"seq": msg.Seq}, chat.Participants...); err != nil {
		return domain.Message{}, err
	}
	if err := out.commit(tx); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ListMessages returns messages after the given sequence number.
func (e Engine) ListMessages(ctx context.Context, chatID, actorID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if _, err := e.chatForActor(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListMessages(ctx, chatID, afterSeq, limit)
}

// MarkRead marks the peer's messages as read for actorID.
func (e Engine) MarkRead(ctx context.Context, chatID, actorID string) (int64, error) {
	if _, err := e.chatForActor(ctx, chatID, actorID); err != nil {
		return 0, err
	}
	return e.Repo.MarkRead(ctx, chatID, actorID)
}

func (e Engine) UnreadCount(ctx context.Context, chatID, actorID string) (int, error) {
	if _, err := e.chatForActor(ctx, chatID, actorID); err != nil {
		return 0, err
	}
	return e.Repo.UnreadCount(ctx, chatID, actorID)
}
