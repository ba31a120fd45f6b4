package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/domain"
)

func TestHubRoutesByTopic(t *testing.T) {
	h := NewHub()
	apps := h.Subscribe(TopicApplication)
	defer apps.Close()
	all := h.Subscribe()
	defer all.Close()

	h.Publish(Notification{Topic: TopicChat, Type: "chat.message"})
	h.Publish(Notification{Topic: TopicApplication, Type: "application.created"})

	assert.Equal(t, "application.created", (<-apps.C).Type)
	assert.Equal(t, "chat.message", (<-all.C).Type)
	assert.Equal(t, "application.created", (<-all.C).Type)
	assert.Empty(t, apps.C)
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	h := NewHub(HubWithSubscriberCapacity(2))
	sub := h.Subscribe(TopicProject)
	defer sub.Close()
	for i := int64(1); i <= 3; i++ {
		h.Publish(Notification{Topic: TopicProject, EventID: i})
	}
	assert.Equal(t, int64(2), (<-sub.C).EventID)
	assert.Equal(t, int64(3), (<-sub.C).EventID)
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(TopicChat, TopicProject)
	require.Equal(t, 1, h.Subscribers(TopicChat))
	sub.Close()
	sub.Close()
	assert.Zero(t, h.Subscribers(TopicChat))
	assert.Zero(t, h.Subscribers(TopicProject))
	_, ok := <-sub.C
	assert.False(t, ok)

	// Publishing after close and on a nil hub must not panic.
	h.Publish(Notification{Topic: TopicChat})
	var nilHub *Hub
	nilHub.Publish(Notification{Topic: TopicChat})
}

func TestFromEvent(t *testing.T) {
	n := FromEvent(domain.Event{ID: 7, Type: "invitation.created", EntityKind: "invitation", EntityID: "i1", ProjectID: "p1"}, "alice", "dave")
	assert.Equal(t, TopicInvitation, n.Topic)
	assert.True(t, n.Concerns("dave"))
	assert.False(t, n.Concerns("bob"))

	n = FromEvent(domain.Event{Type: "role.filled", EntityKind: "role"})
	assert.Equal(t, TopicProject, n.Topic)
	assert.True(t, n.Concerns("anyone"))

	_, ok := ParseTopic("bogus")
	assert.False(t, ok)
	topic, ok := ParseTopic(" Chat ")
	assert.True(t, ok)
	assert.Equal(t, TopicChat, topic)
}
