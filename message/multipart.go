package message

import "github.com/BaSui01/agentmesh/types"

// MultiPart is a Message specialization carrying an ordered sequence of typed
// parts with size accounting.
type MultiPart struct {
	Message
	// Parts is the ordered part list. Append through AddPart.
	Parts []Part `json:"parts"`
}

// NewMultiPart creates a multipart request message with no parts.
func NewMultiPart(sender string, recipients []string, opts ...Option) *MultiPart {
	return &MultiPart{Message: *NewRequest(sender, recipients, nil, opts...)}
}

// AddPart appends a part, preserving insertion order. The part must be
// well-formed; violations surface the first one.
func (m *MultiPart) AddPart(p Part) error {
	if violations := p.Validate(); len(violations) > 0 {
		return types.NewError(types.ErrValidation, violations[0])
	}
	m.Parts = append(m.Parts, p)
	return nil
}

// HasParts reports whether the message carries any parts.
func (m *MultiPart) HasParts() bool {
	return len(m.Parts) > 0
}

// PartCount returns the number of parts.
func (m *MultiPart) PartCount() int {
	return len(m.Parts)
}

// TotalSize returns the sum of the part sizes. Zero parts yields zero.
func (m *MultiPart) TotalSize() int64 {
	var total int64
	for _, p := range m.Parts {
		total += p.Size
	}
	return total
}

// Validate returns the envelope violations plus any part violations.
func (m *MultiPart) Validate() []string {
	violations := m.Message.Validate()
	for _, p := range m.Parts {
		violations = append(violations, p.Validate()...)
	}
	return violations
}
