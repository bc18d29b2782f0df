package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentmesh/types"
)

// Headers carries the delivery bookkeeping for a message. Headers are the
// only mutable portion of a message after construction, and only the
// component currently responsible for delivery may mutate them.
type Headers struct {
	// ExpiresAt is the instant after which the message must not be
	// delivered. Nil means the message never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// RetryCount is the number of redelivery attempts made so far.
	RetryCount int `json:"retry_count"`
	// MaxRetries caps redelivery attempts per recipient.
	MaxRetries int `json:"max_retries"`
}

// CanRetry reports whether another redelivery attempt is allowed.
func (h *Headers) CanRetry() bool {
	return h.RetryCount < h.MaxRetries
}

// MarkRetry records one redelivery attempt.
func (h *Headers) MarkRetry() {
	h.RetryCount++
}

// Message is the addressable A2A envelope exchanged between agents.
// All fields except Headers are immutable after construction.
type Message struct {
	// ID is the unique identifier of this message.
	ID string `json:"id"`
	// Sender is the agent id of the originator.
	Sender string `json:"sender"`
	// Recipients is the non-empty ordered set of destination agent ids.
	Recipients []string `json:"recipients"`
	// Content is the opaque payload supplied by the sending agent.
	Content any `json:"content"`
	// Type is the message type (request, response, error, status, cancel).
	Type types.MessageType `json:"message_type"`
	// Priority orders delivery when messages queue for the same recipient.
	Priority types.Priority `json:"priority"`
	// Headers carries expiry and retry bookkeeping.
	Headers Headers `json:"headers"`
	// StatusCode is set on response and error messages.
	StatusCode types.StatusCode `json:"status_code,omitempty"`
	// ErrorMessage is the human-readable failure text on error messages.
	ErrorMessage string `json:"error_message,omitempty"`
	// CorrelationID links the message to a tracked task or an originating
	// message id.
	CorrelationID string `json:"correlation_id,omitempty"`
	// CreatedAt is the construction timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Option configures a message at construction.
type Option func(*Message)

// WithPriority sets the delivery priority.
func WithPriority(p types.Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithExpiresAt sets an absolute expiry instant.
func WithExpiresAt(at time.Time) Option {
	return func(m *Message) { m.Headers.ExpiresAt = &at }
}

// WithTTL sets the expiry relative to the construction timestamp.
func WithTTL(ttl time.Duration) Option {
	return func(m *Message) {
		at := m.CreatedAt.Add(ttl)
		m.Headers.ExpiresAt = &at
	}
}

// WithMaxRetries caps redelivery attempts.
func WithMaxRetries(n int) Option {
	return func(m *Message) { m.Headers.MaxRetries = n }
}

// WithCorrelationID links the message to a task or an originating message.
func WithCorrelationID(id string) Option {
	return func(m *Message) { m.CorrelationID = id }
}

// WithStatusCode sets the status code.
func WithStatusCode(code types.StatusCode) Option {
	return func(m *Message) { m.StatusCode = code }
}

// defaultMaxRetries matches the config default so messages built without
// options behave like a configured deployment.
const defaultMaxRetries = 3

// NewRequest creates a well-formed request message with priority NORMAL.
// It never fails for valid inputs; malformed inputs surface through Validate.
func NewRequest(sender string, recipients []string, content any, opts ...Option) *Message {
	m := &Message{
		ID:         uuid.New().String(),
		Sender:     sender,
		Recipients: append([]string(nil), recipients...),
		Content:    content,
		Type:       types.MessageTypeRequest,
		Priority:   types.PriorityNormal,
		Headers:    Headers{MaxRetries: defaultMaxRetries},
		CreatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewResponse derives a response message directed back at the sender of the
// original request. The original is not mutated.
func NewResponse(original *Message, content any, opts ...Option) (*Message, error) {
	if original == nil {
		return nil, ErrNilOriginal
	}
	m := NewRequest(firstRecipient(original), []string{original.Sender}, content, opts...)
	m.Type = types.MessageTypeResponse
	if m.StatusCode == "" {
		m.StatusCode = types.StatusOK
	}
	if m.CorrelationID == "" {
		m.CorrelationID = original.ID
	}
	return m, nil
}

// NewError derives an error message directed back at the sender of the
// original message, carrying a status code and human-readable text. The
// original is not mutated.
func NewError(original *Message, status types.StatusCode, text string, opts ...Option) (*Message, error) {
	if original == nil {
		return nil, ErrNilOriginal
	}
	m := NewRequest(firstRecipient(original), []string{original.Sender}, nil, opts...)
	m.Type = types.MessageTypeError
	m.StatusCode = status
	m.ErrorMessage = text
	if m.CorrelationID == "" {
		m.CorrelationID = original.ID
	}
	return m, nil
}

// NewCancel creates a cancellation message for a tracked task.
func NewCancel(sender string, recipients []string, taskID string, opts ...Option) *Message {
	m := NewRequest(sender, recipients, map[string]string{"task_id": taskID}, opts...)
	m.Type = types.MessageTypeCancel
	m.CorrelationID = taskID
	return m
}

func firstRecipient(m *Message) string {
	if len(m.Recipients) > 0 {
		return m.Recipients[0]
	}
	return ""
}

// Validate returns the list of invariant violations; an empty list means the
// message is well-formed. Each violation names the failing field.
func (m *Message) Validate() []string {
	var violations []string
	if m.ID == "" {
		violations = append(violations, "message id must not be empty")
	}
	if m.Sender == "" {
		violations = append(violations, "sender must not be empty")
	}
	if len(m.Recipients) == 0 {
		violations = append(violations, "recipients must not be empty")
	}
	for i, r := range m.Recipients {
		if r == "" {
			violations = append(violations, fmt.Sprintf("recipients[%d] must not be empty", i))
		}
	}
	if !m.Type.IsValid() {
		violations = append(violations, fmt.Sprintf("invalid message type: %q", m.Type))
	}
	if !m.Priority.IsValid() {
		violations = append(violations, fmt.Sprintf("invalid priority: %q", m.Priority))
	}
	if m.StatusCode != "" && !m.StatusCode.IsValid() {
		violations = append(violations, fmt.Sprintf("invalid status code: %q", m.StatusCode))
	}
	if m.Headers.RetryCount < 0 {
		violations = append(violations, "retry_count must not be negative")
	}
	if m.Headers.MaxRetries < 0 {
		violations = append(violations, "max_retries must not be negative")
	}
	return violations
}

// IsExpired reports whether the message is past its expiry at the clock's
// current instant. A message without expiry never expires. The check is
// monotonic for a fixed ExpiresAt and a monotonic clock.
func (m *Message) IsExpired(clock types.Clock) bool {
	if m.Headers.ExpiresAt == nil {
		return false
	}
	return clock.Now().After(*m.Headers.ExpiresAt)
}

// CanRetry reports whether the message has redelivery attempts left.
func (m *Message) CanRetry() bool {
	return m.Headers.CanRetry()
}

// IsRequest reports whether this is a request message.
func (m *Message) IsRequest() bool { return m.Type == types.MessageTypeRequest }

// IsResponse reports whether this is a response message.
func (m *Message) IsResponse() bool { return m.Type == types.MessageTypeResponse }

// IsError reports whether this is an error message.
func (m *Message) IsError() bool { return m.Type == types.MessageTypeError }

// Clone creates a deep copy of the message. Map and slice payloads are
// copied through their JSON encoding.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Recipients = append([]string(nil), m.Recipients...)
	if m.Headers.ExpiresAt != nil {
		at := *m.Headers.ExpiresAt
		clone.Headers.ExpiresAt = &at
	}
	if m.Content != nil {
		data, err := json.Marshal(m.Content)
		if err == nil {
			var payload any
			if err := json.Unmarshal(data, &payload); err == nil {
				clone.Content = payload
			}
		}
	}
	return &clone
}

// ToJSON serializes the message to JSON bytes.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses a message from JSON bytes.
func FromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Parse decodes JSON bytes into a message and validates it. Parse failures
// and validation failures both surface as VALIDATION errors.
func Parse(data []byte) (*Message, error) {
	m, err := FromJSON(data)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "malformed message").WithCause(err)
	}
	if violations := m.Validate(); len(violations) > 0 {
		return nil, types.NewError(types.ErrValidation, violations[0])
	}
	return m, nil
}
