package message

import "errors"

// Part construction errors.
var (
	// ErrPartMissingID indicates the part is missing an ID.
	ErrPartMissingID = errors.New("part: missing id")
	// ErrPartInvalidType indicates the part has an unknown part type.
	ErrPartInvalidType = errors.New("part: invalid part type")
	// ErrPartTypeDisabled indicates the part type's content handler is disabled.
	ErrPartTypeDisabled = errors.New("part: content handler disabled for part type")
	// ErrPartNilContent indicates the part has no content.
	ErrPartNilContent = errors.New("part: nil content")
)

// Message construction errors.
var (
	// ErrNilOriginal indicates a derived message was requested from a nil original.
	ErrNilOriginal = errors.New("message: original message is nil")
)
