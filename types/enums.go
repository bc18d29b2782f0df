// Package types provides core types used across the agentmesh protocol.
// This package has ZERO dependencies on other agentmesh packages to avoid circular imports.
// All other packages should import types from here.
package types

// MessageType represents the kind of an A2A message.
type MessageType string

const (
	// MessageTypeRequest represents a task request message.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse represents a task result message.
	MessageTypeResponse MessageType = "response"
	// MessageTypeError represents an error message.
	MessageTypeError MessageType = "error"
	// MessageTypeStatus represents a status update message.
	MessageTypeStatus MessageType = "status"
	// MessageTypeCancel represents a task cancellation message.
	MessageTypeCancel MessageType = "cancel"
)

// IsValid checks whether the message type is a known A2A message type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeError,
		MessageTypeStatus, MessageTypeCancel:
		return true
	default:
		return false
	}
}

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// Priority represents the delivery priority of a message.
// Messages queued for the same recipient are delivered in priority order,
// FIFO within the same priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks whether the priority is a known priority level.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Rank returns the numeric ordering of the priority. Higher ranks are
// delivered first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// StatusCode represents the outcome carried by response and error messages.
type StatusCode string

const (
	StatusOK          StatusCode = "ok"
	StatusAccepted    StatusCode = "accepted"
	StatusBadRequest  StatusCode = "bad_request"
	StatusNotFound    StatusCode = "not_found"
	StatusTimeout     StatusCode = "timeout"
	StatusUnavailable StatusCode = "unavailable"
	StatusInternal    StatusCode = "internal"
)

// IsValid checks whether the status code is a known code.
func (s StatusCode) IsValid() bool {
	switch s {
	case StatusOK, StatusAccepted, StatusBadRequest, StatusNotFound,
		StatusTimeout, StatusUnavailable, StatusInternal:
		return true
	default:
		return false
	}
}

// PartType represents the content type of a single part in a multipart message.
type PartType string

const (
	PartTypeText   PartType = "text"
	PartTypeData   PartType = "data"
	PartTypeFile   PartType = "file"
	PartTypeImage  PartType = "image"
	PartTypeAudio  PartType = "audio"
	PartTypeVideo  PartType = "video"
	PartTypeBinary PartType = "binary"
)

// IsValid checks whether the part type is a known part type.
func (t PartType) IsValid() bool {
	switch t {
	case PartTypeText, PartTypeData, PartTypeFile, PartTypeImage,
		PartTypeAudio, PartTypeVideo, PartTypeBinary:
		return true
	default:
		return false
	}
}

// String returns the string representation of the part type.
func (t PartType) String() string {
	return string(t)
}

// AllPartTypes lists every known part type. Used by the content-handler
// capability set and by configuration validation.
func AllPartTypes() []PartType {
	return []PartType{
		PartTypeText, PartTypeData, PartTypeFile, PartTypeImage,
		PartTypeAudio, PartTypeVideo, PartTypeBinary,
	}
}

// TaskState represents the lifecycle state of a tracked unit of work.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// IsValid checks whether the task state is a known state.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is terminal. Terminal states accept
// no further transitions except idempotent re-entry of the same state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}
