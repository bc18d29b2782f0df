package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/types"
)

func TestNewRequest(t *testing.T) {
	msg := NewRequest("agentA", []string{"agentB"}, map[string]any{"q": 1})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "agentA", msg.Sender)
	assert.Equal(t, []string{"agentB"}, msg.Recipients)
	assert.Equal(t, types.MessageTypeRequest, msg.Type)
	assert.Equal(t, types.PriorityNormal, msg.Priority)
	assert.Empty(t, msg.Validate())
}

func TestNewRequest_Options(t *testing.T) {
	expiry := time.Now().UTC().Add(time.Minute)
	msg := NewRequest("agentA", []string{"agentB"}, nil,
		WithPriority(types.PriorityUrgent),
		WithExpiresAt(expiry),
		WithMaxRetries(5),
		WithCorrelationID("task-7"),
	)

	assert.Equal(t, types.PriorityUrgent, msg.Priority)
	require.NotNil(t, msg.Headers.ExpiresAt)
	assert.True(t, expiry.Equal(*msg.Headers.ExpiresAt))
	assert.Equal(t, 5, msg.Headers.MaxRetries)
	assert.Equal(t, "task-7", msg.CorrelationID)
}

func TestMessage_Validate_NamesMissingFields(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "missing id",
			msg: &Message{
				Sender: "a", Recipients: []string{"b"},
				Type: types.MessageTypeRequest, Priority: types.PriorityNormal,
			},
			want: "message id must not be empty",
		},
		{
			name: "missing sender",
			msg: &Message{
				ID: "m1", Recipients: []string{"b"},
				Type: types.MessageTypeRequest, Priority: types.PriorityNormal,
			},
			want: "sender must not be empty",
		},
		{
			name: "missing recipients",
			msg: &Message{
				ID: "m1", Sender: "a",
				Type: types.MessageTypeRequest, Priority: types.PriorityNormal,
			},
			want: "recipients must not be empty",
		},
		{
			name: "invalid type",
			msg: &Message{
				ID: "m1", Sender: "a", Recipients: []string{"b"},
				Type: types.MessageType("broadcast"), Priority: types.PriorityNormal,
			},
			want: `invalid message type: "broadcast"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := tt.msg.Validate()
			require.NotEmpty(t, violations)
			assert.Contains(t, violations, tt.want)
		})
	}
}

func TestMessage_IsExpired(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	msg := NewRequest("a", []string{"b"}, nil)
	assert.False(t, msg.IsExpired(types.FixedClock{At: base}), "no expiry set")

	expiry := base.Add(time.Minute)
	msg = NewRequest("a", []string{"b"}, nil, WithExpiresAt(expiry))
	assert.False(t, msg.IsExpired(types.FixedClock{At: base}))
	assert.False(t, msg.IsExpired(types.FixedClock{At: expiry}), "expiry boundary is not yet expired")
	assert.True(t, msg.IsExpired(types.FixedClock{At: expiry.Add(time.Nanosecond)}))

	// Monotonic: once expired, later checks stay expired.
	assert.True(t, msg.IsExpired(types.FixedClock{At: expiry.Add(time.Hour)}))
}

func TestHeaders_CanRetry(t *testing.T) {
	h := Headers{MaxRetries: 2}
	assert.True(t, h.CanRetry())
	h.MarkRetry()
	assert.True(t, h.CanRetry())
	h.MarkRetry()
	assert.False(t, h.CanRetry())
	assert.Equal(t, 2, h.RetryCount)
}

func TestNewResponse(t *testing.T) {
	req := NewRequest("agentA", []string{"agentB"}, map[string]any{"q": 1})

	resp, err := NewResponse(req, map[string]any{"answer": 42})
	require.NoError(t, err)

	assert.Equal(t, []string{"agentA"}, resp.Recipients)
	assert.Equal(t, "agentB", resp.Sender)
	assert.Equal(t, types.MessageTypeResponse, resp.Type)
	assert.Equal(t, types.StatusOK, resp.StatusCode)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Empty(t, resp.Validate())
}

func TestNewError(t *testing.T) {
	req := NewRequest("agentA", []string{"agentB"}, nil)

	errMsg, err := NewError(req, types.StatusUnavailable, "recipient offline")
	require.NoError(t, err)

	assert.Equal(t, []string{"agentA"}, errMsg.Recipients)
	assert.Equal(t, types.MessageTypeError, errMsg.Type)
	assert.Equal(t, types.StatusUnavailable, errMsg.StatusCode)
	assert.Equal(t, "recipient offline", errMsg.ErrorMessage)
	assert.Equal(t, req.ID, errMsg.CorrelationID)
	assert.Empty(t, errMsg.Validate())

	// The original is not mutated.
	assert.Equal(t, []string{"agentB"}, req.Recipients)
	assert.Equal(t, types.MessageTypeRequest, req.Type)
	assert.Empty(t, req.ErrorMessage)
}

func TestNewError_NilOriginal(t *testing.T) {
	_, err := NewError(nil, types.StatusInternal, "boom")
	assert.ErrorIs(t, err, ErrNilOriginal)
}

func TestMessage_Clone(t *testing.T) {
	msg := NewRequest("a", []string{"b", "c"}, map[string]any{"nested": map[string]any{"k": "v"}})
	clone := msg.Clone()

	clone.Recipients[0] = "z"
	assert.Equal(t, "b", msg.Recipients[0])

	cloneContent := clone.Content.(map[string]any)
	cloneContent["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", msg.Content.(map[string]any)["nested"].(map[string]any)["k"])
}

func TestParse(t *testing.T) {
	msg := NewRequest("a", []string{"b"}, map[string]any{"q": float64(1)})
	data, err := msg.ToJSON()
	require.NoError(t, err)

	decoded, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Sender, decoded.Sender)
	assert.Equal(t, msg.Recipients, decoded.Recipients)

	_, err = Parse([]byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = Parse([]byte(`{"id":"m1"}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}
