package teamlinesdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Teamline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set. Servers accept
	// it only in development.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

type Role struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Filled      bool    `json:"filled"`
	UserID      *string `json:"user_id,omitempty"`
}

type Project struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
	CreatorID   string   `json:"creator_id"`
	Roles       []Role   `json:"roles"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type RoleInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CreateProjectInput struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Roles       []RoleInput `json:"roles,omitempty"`
}

type UserProfile struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	University     string `json:"university,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type Application struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	RoleID      string       `json:"role_id"`
	RoleTitle   string       `json:"role_title"`
	ApplicantID string       `json:"applicant_id"`
	Message     string       `json:"message,omitempty"`
	Status      string       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Applicant   *UserProfile `json:"applicant,omitempty"`
	CreatedAt   string       `json:"created_at"`
}

type Invitation struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	RoleID    string       `json:"role_id"`
	RoleTitle string       `json:"role_title"`
	InviterID string       `json:"inviter_id"`
	InviteeID string       `json:"invitee_id"`
	Message   string       `json:"message,omitempty"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Invitee   *UserProfile `json:"invitee,omitempty"`
	CreatedAt string       `json:"created_at"`
}

// Request is the kind-agnostic view returned by decisions.
type Request struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	RoleID    string `json:"role_id"`
	RoleTitle string `json:"role_title"`
	UserID    string `json:"user_id"`
	DeciderID string `json:"decider_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type Chat struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Binding      *struct {
		Kind     string `json:"kind"`
		TargetID string `json:"target_id"`
	} `json:"binding,omitempty"`
	Status *string `json:"status,omitempty"`
	Unread int     `json:"unread,omitempty"`
}

type Message struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Read      bool   `json:"read"`
}

type ApplyFailure struct {
	Role    string `json:"role"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ApplyResult struct {
	Created []Application  `json:"created"`
	Chats   []Chat         `json:"chats"`
	Failed  []ApplyFailure `json:"failed"`
}

type InviteResult struct {
	Invitation Invitation `json:"invitation"`
	Chat       Chat       `json:"chat"`
}

type Decision struct {
	Request Request `json:"request"`
	Role    *Role   `json:"role,omitempty"`
	Chat    Chat    `json:"chat"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Notification is one server-sent event from the stream.
type Notification struct {
	Topic     string   `json:"topic"`
	EventID   int64    `json:"event_id"`
	Type      string   `json:"type"`
	ProjectID string   `json:"project_id,omitempty"`
	EntityID  string   `json:"entity_id"`
	Users     []string `json:"users,omitempty"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Apply applies to each role (id or title). A non-nil result may accompany
// an error when every role failed.
func (c *Client) Apply(ctx context.Context, projectID string, roles []string, message string) (ApplyResult, error) {
	body := map[string]any{"roles": roles, "message": message}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/applications", url.PathEscape(projectID)), body, &resp)
	return resp, err
}

func (c *Client) Invite(ctx context.Context, projectID, role, inviteeID, message string) (InviteResult, error) {
	body := map[string]any{"role": role, "invitee_id": inviteeID, "message": message}
	var resp InviteResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/invitations", url.PathEscape(projectID)), body, &resp)
	return resp, err
}

// Accept accepts an application or invitation. kind is "application" or
// "invitation".
func (c *Client) Accept(ctx context.Context, kind, id string) (Decision, error) {
	var resp Decision
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%s/%s/accept", url.PathEscape(kind), url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) Decline(ctx context.Context, kind, id, reason string) (Decision, error) {
	var resp Decision
	body := map[string]any{"reason": reason}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requests/%s/%s/decline", url.PathEscape(kind), url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) MyApplications(ctx context.Context, status string) ([]Application, error) {
	var resp struct {
		Items []Application `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("me/applications", url.Values{"status": {status}}), nil, &resp)
	return resp.Items, err
}

func (c *Client) MyInvitations(ctx context.Context, status string) ([]Invitation, error) {
	var resp struct {
		Items []Invitation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("me/invitations", url.Values{"status": {status}}), nil, &resp)
	return resp.Items, err
}

func (c *Client) GetChat(ctx context.Context, id string) (Chat, error) {
	var resp Chat
	err := c.do(ctx, http.MethodGet, "chats/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) Messages(ctx context.Context, chatID string, afterSeq int64) ([]Message, error) {
	var resp []Message
	q := url.Values{}
	if afterSeq > 0 {
		q.Set("after", strconv.FormatInt(afterSeq, 10))
	}
	err := c.do(ctx, http.MethodGet, withQuery(fmt.Sprintf("chats/%s/messages", url.PathEscape(chatID)), q), nil, &resp)
	return resp, err
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) (Message, error) {
	var resp Message
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("chats/%s/messages", url.PathEscape(chatID)), map[string]any{"text": text}, &resp)
	return resp, err
}

func (c *Client) MarkRead(ctx context.Context, chatID string) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("chats/%s/read", url.PathEscape(chatID)), nil, &resp)
	return resp.Marked, err
}

// EventsPage returns events after the given event id, oldest first.
func (c *Client) EventsPage(ctx context.Context, projectID string, after int64, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// Stream subscribes to server-sent notifications and calls fn for each one
// until ctx is canceled, the server closes the stream, or fn returns an
// error. topics may be empty for all topics.
func (c *Client) Stream(ctx context.Context, topics []string, fn func(Notification) error) error {
	q := url.Values{}
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	req, err := c.newRequest(ctx, http.MethodGet, withQuery("events/stream", q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// the stream outlives any per-request timeout
	resp, err := (&http.Client{Transport: c.httpClient().Transport}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func withQuery(endpoint string, q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			q.Del(k)
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
