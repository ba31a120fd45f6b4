package server

import (
	"encoding/json"

	"teamline/internal/domain"
	"teamline/internal/engine"
)

// Request payloads

type RoleRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description,omitempty" validate:"max=2000"`
}

type CreateProjectRequest struct {
	ID          string        `json:"id,omitempty" validate:"max=64"`
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description,omitempty" validate:"max=5000"`
	Tags        []string      `json:"tags,omitempty" validate:"max=20,dive,max=40"`
	Status      string        `json:"status,omitempty" enum:"planning,in_progress,completed"`
	Roles       []RoleRequest `json:"roles,omitempty" validate:"max=50,dive"`
}

type UpdateProjectRequest struct {
	Status string `json:"status" enum:"planning,in_progress,completed" validate:"required"`
}

type ApplyRequest struct {
	// Roles are role ids or titles.
	Roles   []string `json:"roles" validate:"required,min=1,dive,required"`
	Message string   `json:"message,omitempty" validate:"max=2000"`
}

type InviteRequest struct {
	Role      string `json:"role" validate:"required"`
	InviteeID string `json:"invitee_id" validate:"required"`
	Message   string `json:"message,omitempty" validate:"max=2000"`
}

type DeclineRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=2000"`
}

type DirectChatRequest struct {
	PeerID string `json:"peer_id" validate:"required"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// Response payloads

type ApplyFailureResponse struct {
	Role    string `json:"role"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ApplyResponse struct {
	Created []domain.Application   `json:"created"`
	Chats   []domain.Chat          `json:"chats"`
	Failed  []ApplyFailureResponse `json:"failed"`
}

type InviteResponse struct {
	Invitation domain.Invitation `json:"invitation"`
	Chat       domain.Chat       `json:"chat"`
}

type DecisionResponse struct {
	Request domain.Request `json:"request"`
	Role    *domain.Role   `json:"role,omitempty"`
	Chat    domain.Chat    `json:"chat"`
}

// ChatResponse is a chat as seen by one participant.
type ChatResponse struct {
	ID           string                 `json:"id"`
	Participants []string               `json:"participants"`
	Binding      *domain.ChatBinding    `json:"binding,omitempty"`
	Status       *domain.RequestStatus  `json:"status,omitempty"`
	LastMessage  *domain.MessageSummary `json:"last_message,omitempty"`
	Unread       int                    `json:"unread"`
	CreatedAt    string                 `json:"created_at" format:"date-time"`
	UpdatedAt    string                 `json:"updated_at" format:"date-time"`
}

func newChatResponse(c domain.Chat, unread int) ChatResponse {
	return ChatResponse{
		ID:           c.ID,
		Participants: nonNilSlice(c.Participants),
		Binding:      c.Binding,
		Status:       c.Status,
		LastMessage:  c.LastMessage,
		Unread:       unread,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedProjects struct {
	Items      []domain.Project `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedApplications struct {
	Items      []domain.Application `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedInvitations struct {
	Items      []domain.Invitation `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mapping helpers

func applyResponse(res engine.ApplyResult) ApplyResponse {
	out := ApplyResponse{
		Created: nonNilSlice(res.Applications),
		Chats:   nonNilSlice(res.Chats),
		Failed:  []ApplyFailureResponse{},
	}
	for _, f := range res.Failed {
		se := handleError(f.Err)
		code := "internal_error"
		if ae, ok := se.(*apiError); ok {
			code = ae.Body.Code
		}
		out.Failed = append(out.Failed, ApplyFailureResponse{Role: f.Role, Code: code, Message: se.Error()})
	}
	return out
}

func decisionResponse(d engine.Decision) DecisionResponse {
	return DecisionResponse{Request: d.Request, Role: d.Role, Chat: d.Chat}
}

func eventResponse(e domain.Event, withPayload bool) EventResponse {
	res := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if withPayload {
		res.Payload = decodeJSONMap(e.Payload)
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
