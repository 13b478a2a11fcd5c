package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hspmesh/hsp/types"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	clock := types.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	env, err := types.NewEnvelope(clock, "agent-a", "hsp/tasks/cap-1", types.MessageTypeTaskRequest, map[string]any{"expr": "2+3"})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded types.Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, env.MessageID, decoded.MessageID)
	assert.Equal(t, env.SenderID, decoded.SenderID)
	assert.Equal(t, env.MessageType, decoded.MessageType)
	assert.JSONEq(t, string(env.Payload), string(decoded.Payload))
}

func TestEnvelopeValidateRequiresCorrelationOnResponse(t *testing.T) {
	clock := types.SystemClock{}
	req, err := types.NewEnvelope(clock, "agent-a", "hsp/tasks/cap-1", types.MessageTypeTaskRequest, nil)
	require.NoError(t, err)
	req = req.AsRequest()
	require.NoError(t, req.Validate())

	resp, err := types.AsResponseTo(req, clock, "agent-b", map[string]any{"value": 5})
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
	assert.Equal(t, req.MessageID, resp.CorrelationID)

	broken := *resp
	broken.CorrelationID = ""
	assert.Error(t, broken.Validate())
}

func TestMessageIDsAreUnique(t *testing.T) {
	clock := types.SystemClock{}
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		env, err := types.NewEnvelope(clock, "agent-a", "topic", types.MessageTypeFact, nil)
		require.NoError(t, err)
		_, dup := seen[env.MessageID]
		assert.False(t, dup)
		seen[env.MessageID] = struct{}{}
	}
}
