package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/polling"
)

func newTestClient() *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: uuid.New(),
		send:   make(chan WSMessage, 8),
		rooms:  make(map[uuid.UUID]string),
	}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubToConferenceReachesWholeRoom(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	conferenceID := uuid.New()

	host := newTestClient()
	audience := newTestClient()
	outsider := newTestClient()
	hub.Join(host, conferenceID, polling.RoleHost)
	hub.Join(audience, conferenceID, polling.RoleAudience)
	hub.Join(outsider, uuid.New(), polling.RoleAudience)

	hub.ToConference(conferenceID, polling.EventQuestionLive, map[string]string{"k": "v"})

	require.Len(t, drain(host), 1)
	msgs := drain(audience)
	require.Len(t, msgs, 1)
	assert.Equal(t, polling.EventQuestionLive, msgs[0].Event)

	var data map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &data))
	assert.Equal(t, "v", data["k"])

	assert.Empty(t, drain(outsider), "other rooms must not receive the event")
}

func TestHubToHostFiltersAudience(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	conferenceID := uuid.New()

	host := newTestClient()
	audience := newTestClient()
	hub.Join(host, conferenceID, polling.RoleHost)
	hub.Join(audience, conferenceID, polling.RoleAudience)

	hub.ToHost(conferenceID, polling.EventAudienceJoined, map[string]int{"n": 1})

	require.Len(t, drain(host), 1)
	assert.Empty(t, drain(audience), "host-scoped events must not reach the audience")
}

func TestHubLeaveAndRemoveClient(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	c1, c2 := uuid.New(), uuid.New()

	client := newTestClient()
	hub.Join(client, c1, polling.RoleAudience)
	hub.Join(client, c2, polling.RoleAudience)
	assert.Equal(t, 1, hub.RoomSize(c1))

	hub.Leave(client, c1)
	assert.Equal(t, 0, hub.RoomSize(c1))
	assert.Equal(t, 1, hub.RoomSize(c2))

	hub.ToConference(c1, polling.EventAudienceCount, nil)
	assert.Empty(t, drain(client))

	hub.RemoveClient(client)
	assert.Equal(t, 0, hub.RoomSize(c2))
}
