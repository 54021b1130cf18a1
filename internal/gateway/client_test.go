package gateway

import (
	"testing"

	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestClientRegistry_AddRemove(t *testing.T) {
	reg := NewClientRegistry(logging.New(nil, "silent"))
	assert.Zero(t, reg.Count())

	reg.Add(&Client{ConnID: "c1", Info: ClientInfo{ID: "console"}})
	reg.Add(&Client{ConnID: "c2"})
	assert.Equal(t, 2, reg.Count())

	reg.Remove("c1")
	reg.Remove("missing")
	assert.Equal(t, 1, reg.Count())
}

func TestClient_SendAfterClose(t *testing.T) {
	c := &Client{ConnID: "c1", closed: true}
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
	assert.NoError(t, c.Close())
}

func TestClientRegistry_BroadcastSkipsClosed(t *testing.T) {
	reg := NewClientRegistry(logging.New(nil, "silent"))
	reg.Add(&Client{ConnID: "c1", closed: true})
	reg.Broadcast(EventCallsRefreshed, map[string]int{"count": 1}, 1)
	assert.Equal(t, 1, reg.Count())
}
