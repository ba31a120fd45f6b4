package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"teamline/internal/domain"
	"teamline/internal/engine"
)

type chatPath struct {
	ChatID string `path:"chat_id"`
}

func registerChats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-chats",
		Method:      http.MethodGet,
		Path:        "/chats",
		Summary:     "Chats the current user takes part in",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,accepted,rejected"`
		Limit  int    `query:"limit" default:"50"`
	}) (*output[[]domain.Chat], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chats, err := e.ListChats(ctx, userID, domain.RequestStatus(input.Status), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(chats)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-direct-chat",
		Method:      http.MethodPost,
		Path:        "/chats",
		Summary:     "Open an unbound chat with another user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DirectChatRequest `json:"body"`
	}) (*output[domain.Chat], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chat, err := e.OpenDirectChat(ctx, userID, input.Body.PeerID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(chat), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-chat",
		Method:      http.MethodGet,
		Path:        "/chats/{chat_id}",
		Summary:     "Get chat",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *chatPath) (*output[ChatResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chat, err := e.GetChat(ctx, input.ChatID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.UnreadCount(ctx, chat.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(newChatResponse(chat, unread)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/chats/{chat_id}/messages",
		Summary:     "Messages after a sequence number, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChatID string `path:"chat_id"`
		After  int64  `query:"after"`
		Limit  int    `query:"limit" default:"100"`
	}) (*output[[]domain.Message], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.ListMessages(ctx, input.ChatID, userID, input.After, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(msgs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/chats/{chat_id}/messages",
		Summary:       "Send a message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ChatID string             `path:"chat_id"`
		Body   SendMessageRequest `json:"body"`
	}) (*output[domain.Message], error) {
		if err := validateBody(input.Body); err != nil {
			return nil, err
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.SendMessage(ctx, input.ChatID, userID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(msg), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-chat-read",
		Method:      http.MethodPost,
		Path:        "/chats/{chat_id}/read",
		Summary:     "Mark the other participant's messages read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *chatPath) (*output[MarkReadResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkRead(ctx, input.ChatID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(MarkReadResponse{Marked: n}), nil
	})
}
