package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	f := NewErrorResponse("req-1", ErrorShape{Code: "unauthorized", Message: "token_mismatch"})
	require.NotNil(t, f.OK)
	assert.False(t, *f.OK)
	assert.Equal(t, FrameTypeResponse, f.Type)
	assert.Equal(t, "unauthorized", f.Error.Code)
	assert.Nil(t, f.Payload)
}

func TestNewEvent_OmitsRequestFields(t *testing.T) {
	f, err := NewEvent(EventDialerStatus, map[string]string{"state": "calling"}, 7)
	require.NoError(t, err)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"dialer.status","seq":7,"payload":{"state":"calling"}}`, string(raw))
}

func TestNewRequest_NilParams(t *testing.T) {
	f, err := NewRequest("r", "health", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(f.Params))
}
