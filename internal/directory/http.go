package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"teamline/internal/domain"
)

// HTTP resolves users against the identity service's REST API:
// GET {BaseURL}/users/{id} returning firstName, lastName, university and
// profilePicture.
type HTTP struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewHTTP(baseURL, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTP{BaseURL: baseURL, Token: token, HTTPClient: &http.Client{Timeout: timeout}}
}

type userPayload struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	University     string `json:"university"`
	ProfilePicture string `json:"profilePicture"`
}

func (h *HTTP) ResolveUser(ctx context.Context, userID string) (domain.UserProfile, error) {
	endpoint := strings.TrimRight(h.BaseURL, "/") + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.UserProfile{}, err
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.UserProfile{ID: userID}, ErrUnknownUser
	case resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.UserProfile{}, fmt.Errorf("directory status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var p userPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode directory user: %w", err)
	}
	return domain.UserProfile{
		ID:             userID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		University:     p.University,
		ProfilePicture: p.ProfilePicture,
	}, nil
}
