package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classchat-service/internal/auth"
	"classchat-service/internal/models"
)

func testClient(userID string) *Client {
	return newClient("conn-"+userID, auth.Identity{UserID: userID, Role: models.RoleStudent, DisplayName: userID}, nil, 16)
}

// readFrame pops the next queued frame off a client's send channel.
func readFrame(t *testing.T, c *Client) models.Frame {
	t.Helper()
	select {
	case payload := <-c.send:
		var frame models.Frame
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return models.Frame{}
	}
}

func queuedFrames(c *Client) int {
	return len(c.send)
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	hub := NewHub()
	sub := testClient("u1")
	other := testClient("u2")
	hub.Register(sub)
	hub.Register(other)
	hub.Subscribe("g1", sub)

	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, map[string]string{"text": "hi"}))

	frame := readFrame(t, sub)
	assert.Equal(t, models.EventMessage, frame.Event)
	assert.Zero(t, queuedFrames(other))
}

func TestDoubleSubscribeDeliversOnce(t *testing.T) {
	hub := NewHub()
	c := testClient("u1")
	hub.Register(c)
	hub.Subscribe("g1", c)
	hub.Subscribe("g1", c)

	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, nil))

	readFrame(t, c)
	assert.Zero(t, queuedFrames(c))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := testClient("u1")
	hub.Register(c)
	hub.Subscribe("g1", c)
	hub.Unsubscribe("g1", c)

	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, nil))
	assert.Zero(t, queuedFrames(c))
	assert.Empty(t, hub.Subscriptions(c))
}

func TestUnregisterDropsAllSubscriptions(t *testing.T) {
	hub := NewHub()
	c := testClient("u1")
	hub.Register(c)
	hub.Subscribe("g1", c)
	hub.Subscribe("g2", c)

	require.ElementsMatch(t, []string{"g1", "g2"}, hub.Subscriptions(c))

	hub.Unregister(c)
	assert.Empty(t, hub.Subscriptions(c))

	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, nil))
	assert.Zero(t, queuedFrames(c))
}

func TestBroadcastToUsersHitsEveryConnection(t *testing.T) {
	hub := NewHub()
	first := testClient("u1")
	second := newClient("conn-u1-b", auth.Identity{UserID: "u1", Role: models.RoleStudent}, nil, 16)
	bystander := testClient("u2")
	hub.Register(first)
	hub.Register(second)
	hub.Register(bystander)

	hub.BroadcastToUsers([]string{"u1"}, models.NewFrame(models.EventGroupCreated, 0, nil))

	readFrame(t, first)
	readFrame(t, second)
	assert.Zero(t, queuedFrames(bystander))
}

func TestFullSendQueueDropsConnection(t *testing.T) {
	hub := NewHub()
	c := newClient("conn-u1", auth.Identity{UserID: "u1", Role: models.RoleStudent}, nil, 1)
	hub.Register(c)
	hub.Subscribe("g1", c)

	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, nil))
	hub.BroadcastToGroup("g1", models.NewFrame(models.EventMessage, 0, nil))

	// The second enqueue overflows the single-slot queue and closes the
	// channel; the buffered frame drains first, then the channel reports
	// closed.
	readFrame(t, c)
	_, open := <-c.send
	assert.False(t, open)
}
