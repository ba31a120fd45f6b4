package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/events"
	"teamline/internal/repo"
)

const streamHeartbeat = 25 * time.Second

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Change feed",
		Description: "Events after the cursor, oldest first. Payloads are included only for the event's actor and the project creator.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,application,invitation,chat"`
		EntityID   string `query:"entity_id"`
		After      string `query:"after"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[paginatedEvents], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var after int64
		if input.After != "" {
			parsed, err := strconv.ParseInt(input.After, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"after": input.After})
			}
			after = parsed
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.EventLog(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		}, limit+1, after)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		creators := map[string]string{}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt, canSeePayload(ctx, e, creators, evt, userID)))
		}
		return respond(resp), nil
	})
}

func canSeePayload(ctx context.Context, e engine.Engine, creators map[string]string, evt domain.Event, userID string) bool {
	if evt.ActorID == userID {
		return true
	}
	if evt.ProjectID == "" {
		return false
	}
	creator, ok := creators[evt.ProjectID]
	if !ok {
		if p, err := e.GetProject(ctx, evt.ProjectID); err == nil {
			creator = p.CreatorID
		}
		creators[evt.ProjectID] = creator
	}
	return creator == userID
}

// registerEventStream serves hub notifications as server-sent events. Only
// notifications concerning the caller are forwarded; each carries the event
// id so clients can catch up through /events after a reconnect.
func registerEventStream(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "events/stream"), func(w http.ResponseWriter, req *http.Request) {
		userID, authErr := userIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok || e.Hub == nil {
			respondStatusError(w, newAPIError(http.StatusNotImplemented, "", "streaming unsupported", nil))
			return
		}
		var topics []events.Topic
		if raw := req.URL.Query().Get("topics"); raw != "" {
			for _, name := range strings.Split(raw, ",") {
				t, ok := events.ParseTopic(name)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unknown topic", map[string]any{"topic": name}))
					return
				}
				topics = append(topics, t)
			}
		}
		sub := e.Hub.Subscribe(topics...)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()
		for {
			select {
			case <-req.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case n, ok := <-sub.C:
				if !ok {
					return
				}
				if !n.Concerns(userID) {
					continue
				}
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.EventID, n.Type, data)
				flusher.Flush()
			}
		}
	})
}
