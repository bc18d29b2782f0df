// Package message implements the A2A message envelope: typed content parts,
// the addressable Message, and the multipart specialization.
//
// Messages are immutable after construction except for header retry/expiry
// bookkeeping, which is owned by the component currently responsible for
// delivery. Parts are immutable once attached to a message.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentmesh/types"
)

// Part is a single typed content unit inside a multipart message.
type Part struct {
	// ID is the unique identifier of this part within its message.
	ID string `json:"id"`
	// Type indicates how Content should be interpreted.
	Type types.PartType `json:"part_type"`
	// Content is the opaque payload. The core never interprets it beyond
	// the structural conversions offered by AsText and AsData.
	Content any `json:"content"`
	// Size is the byte length of the content, derived at construction.
	Size int64 `json:"size"`
}

// Handlers is the content-handler capability set. Part creation is rejected
// for a part type whose handler is disabled in configuration.
type Handlers struct {
	enabled map[types.PartType]bool
}

// DefaultHandlers returns a capability set with every part type enabled.
func DefaultHandlers() Handlers {
	h := Handlers{enabled: make(map[types.PartType]bool)}
	for _, pt := range types.AllPartTypes() {
		h.enabled[pt] = true
	}
	return h
}

// NewHandlers builds a capability set from per-part-type flags. Part types
// absent from the map are disabled.
func NewHandlers(flags map[types.PartType]bool) Handlers {
	h := Handlers{enabled: make(map[types.PartType]bool, len(flags))}
	for pt, on := range flags {
		h.enabled[pt] = on
	}
	return h
}

// Enabled reports whether the handler for the given part type is enabled.
func (h Handlers) Enabled(pt types.PartType) bool {
	return h.enabled[pt]
}

// NewPart creates a part after checking the capability set and deriving the
// content size.
func (h Handlers) NewPart(id string, partType types.PartType, content any) (Part, error) {
	if id == "" {
		return Part{}, ErrPartMissingID
	}
	if !partType.IsValid() {
		return Part{}, fmt.Errorf("%w: %q", ErrPartInvalidType, partType)
	}
	if !h.Enabled(partType) {
		return Part{}, fmt.Errorf("%w: %q", ErrPartTypeDisabled, partType)
	}
	if content == nil {
		return Part{}, ErrPartNilContent
	}

	size, err := contentSize(content)
	if err != nil {
		return Part{}, err
	}

	return Part{ID: id, Type: partType, Content: content, Size: size}, nil
}

// NewPart creates a part with all content handlers enabled.
func NewPart(id string, partType types.PartType, content any) (Part, error) {
	return DefaultHandlers().NewPart(id, partType, content)
}

// NewTextPart creates a text part.
func NewTextPart(id, text string) (Part, error) {
	return NewPart(id, types.PartTypeText, text)
}

// NewDataPart creates a structured data part.
func NewDataPart(id string, data map[string]any) (Part, error) {
	return NewPart(id, types.PartTypeData, data)
}

// NewBinaryPart creates a binary part from raw bytes.
func NewBinaryPart(id string, data []byte) (Part, error) {
	return NewPart(id, types.PartTypeBinary, data)
}

// NewFilePart creates a file part from raw bytes.
func NewFilePart(id string, data []byte) (Part, error) {
	return NewPart(id, types.PartTypeFile, data)
}

// AsText returns the content as a string. Byte content is converted; any
// other shape fails with a CONTENT_CONVERSION error.
func (p Part) AsText() (string, error) {
	switch c := p.Content.(type) {
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	default:
		return "", types.NewError(types.ErrContentConversion,
			fmt.Sprintf("part %s: content of type %T cannot be viewed as text", p.ID, p.Content))
	}
}

// AsData returns the content as a structured mapping. String and byte content
// is decoded as JSON; any other non-map shape fails with a CONTENT_CONVERSION
// error.
func (p Part) AsData() (map[string]any, error) {
	switch c := p.Content.(type) {
	case map[string]any:
		return c, nil
	case string:
		return decodeDataContent(p.ID, []byte(c))
	case []byte:
		return decodeDataContent(p.ID, c)
	default:
		return nil, types.NewError(types.ErrContentConversion,
			fmt.Sprintf("part %s: content of type %T cannot be viewed as data", p.ID, p.Content))
	}
}

// Validate returns the list of invariant violations; empty means valid.
func (p Part) Validate() []string {
	var violations []string
	if p.ID == "" {
		violations = append(violations, "part id must not be empty")
	}
	if !p.Type.IsValid() {
		violations = append(violations, fmt.Sprintf("invalid part type: %q", p.Type))
	}
	if p.Size < 0 {
		violations = append(violations, "part size must not be negative")
	}
	return violations
}

func decodeDataContent(id string, raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, types.NewError(types.ErrContentConversion,
			fmt.Sprintf("part %s: content is not a JSON object", id)).WithCause(err)
	}
	return out, nil
}

// contentSize derives the byte length of part content. Structured content is
// measured by its JSON encoding.
func contentSize(content any) (int64, error) {
	switch c := content.(type) {
	case string:
		return int64(len(c)), nil
	case []byte:
		return int64(len(c)), nil
	case json.RawMessage:
		return int64(len(c)), nil
	default:
		encoded, err := json.Marshal(c)
		if err != nil {
			return 0, types.NewError(types.ErrContentConversion,
				fmt.Sprintf("content of type %T has no byte representation", content)).WithCause(err)
		}
		return int64(len(encoded)), nil
	}
}
