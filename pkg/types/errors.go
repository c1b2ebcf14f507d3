package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Frame-level failures all wrap ErrValidation so the
// connection layer can drop them with a single errors.Is check.
var (
	ErrValidation = errors.New("validation error")

	ErrMalformedFrame   = fmt.Errorf("%w: malformed frame", ErrValidation)
	ErrMissingType      = fmt.Errorf("%w: frame type is required", ErrValidation)
	ErrUnknownEventType = fmt.Errorf("%w: unknown event type", ErrValidation)
	ErrMissingPayload   = fmt.Errorf("%w: payload is required", ErrValidation)

	ErrInvalidRoomID         = fmt.Errorf("%w: room id must be 1-128 non-whitespace characters", ErrValidation)
	ErrDisplayNameTooLong    = fmt.Errorf("%w: display name exceeds 64 characters", ErrValidation)
	ErrMissingFileID         = fmt.Errorf("%w: file id is required", ErrValidation)
	ErrMissingFileName       = fmt.Errorf("%w: file name is required", ErrValidation)
	ErrFileNameTooLong       = fmt.Errorf("%w: file name exceeds 255 bytes", ErrValidation)
	ErrMissingLanguage       = fmt.Errorf("%w: language is required", ErrValidation)
	ErrMissingCursorPosition = fmt.Errorf("%w: cursor position is required", ErrValidation)
	ErrEmptyChatText         = fmt.Errorf("%w: chat text is empty", ErrValidation)
	ErrChatTextTooLong       = fmt.Errorf("%w: chat text exceeds 4000 characters", ErrValidation)
	ErrMissingSignalTarget   = fmt.Errorf("%w: signal target is required", ErrValidation)
)
