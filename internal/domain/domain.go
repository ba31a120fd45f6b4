package domain

const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
)

// RequestStatus is shared by applications, invitations and the chats bound to them.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// RequestKind names the two request flavors; it doubles as a chat binding kind.
type RequestKind string

const (
	KindApplication RequestKind = "application"
	KindInvitation  RequestKind = "invitation"
)

func ParseRequestKind(s string) (RequestKind, bool) {
	switch RequestKind(s) {
	case KindApplication, KindInvitation:
		return RequestKind(s), true
	}
	return "", false
}

type Project struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status" enum:"planning,in_progress,completed"`
	CreatorID   string   `json:"creator_id"`
	Roles       []Role   `json:"roles"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Role is a slot on a project team. Filled is true exactly when UserID is set.
type Role struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Filled      bool    `json:"filled"`
	UserID      *string `json:"user_id,omitempty"`
}

// UserProfile is the denormalized subset of a user shown next to a request.
type UserProfile struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	University     string `json:"university,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

func (p UserProfile) Empty() bool {
	return p.FirstName == "" && p.LastName == "" && p.University == "" && p.ProfilePicture == ""
}

type Application struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	RoleID      string        `json:"role_id"`
	RoleTitle   string        `json:"role_title"`
	ApplicantID string        `json:"applicant_id"`
	Message     string        `json:"message,omitempty"`
	Status      RequestStatus `json:"status" enum:"pending,accepted,rejected"`
	Reason      string        `json:"reason,omitempty"`
	Applicant   *UserProfile  `json:"applicant,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
	DecidedAt   *string       `json:"decided_at,omitempty" format:"date-time"`
}

type Invitation struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	RoleID    string        `json:"role_id"`
	RoleTitle string        `json:"role_title"`
	InviterID string        `json:"inviter_id"`
	InviteeID string        `json:"invitee_id"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status" enum:"pending,accepted,rejected"`
	Reason    string        `json:"reason,omitempty"`
	Invitee   *UserProfile  `json:"invitee,omitempty"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
	DecidedAt *string       `json:"decided_at,omitempty" format:"date-time"`
}

// Request is the kind-agnostic view of an application or invitation used by
// the ledger and the coordinator. UserID is the person who would fill the
// role (applicant or invitee); DeciderID is who must accept or decline it
// (project creator or invitee).
type Request struct {
	Kind      RequestKind   `json:"kind" enum:"application,invitation"`
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	RoleID    string        `json:"role_id"`
	RoleTitle string        `json:"role_title"`
	UserID    string        `json:"user_id"`
	DeciderID string        `json:"decider_id"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status" enum:"pending,accepted,rejected"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
	DecidedAt *string       `json:"decided_at,omitempty" format:"date-time"`
}

func (a Application) Request(creatorID string) Request {
	return Request{
		Kind:      KindApplication,
		ID:        a.ID,
		ProjectID: a.ProjectID,
		RoleID:    a.RoleID,
		RoleTitle: a.RoleTitle,
		UserID:    a.ApplicantID,
		DeciderID: creatorID,
		Message:   a.Message,
		Status:    a.Status,
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		DecidedAt: a.DecidedAt,
	}
}

func (i Invitation) Request() Request {
	return Request{
		Kind:      KindInvitation,
		ID:        i.ID,
		ProjectID: i.ProjectID,
		RoleID:    i.RoleID,
		RoleTitle: i.RoleTitle,
		UserID:    i.InviteeID,
		DeciderID: i.InviteeID,
		Message:   i.Message,
		Status:    i.Status,
		Reason:    i.Reason,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		DecidedAt: i.DecidedAt,
	}
}

type ChatBinding struct {
	Kind     RequestKind `json:"kind" enum:"application,invitation"`
	TargetID string      `json:"target_id"`
}

type MessageSummary struct {
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Chat is a two-party thread. Status is present only when the chat is bound
// to a request and always equals that request's status after a commit.
type Chat struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	Binding      *ChatBinding    `json:"binding,omitempty"`
	Status       *RequestStatus  `json:"status,omitempty"`
	LastMessage  *MessageSummary `json:"last_message,omitempty"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
	UpdatedAt    string          `json:"updated_at" format:"date-time"`
}

func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Message struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Read      bool   `json:"read"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
