package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxRoomIDLength      = 128
	MaxDisplayNameLength = 64
	MaxFileNameLength    = 255
	MaxChatTextLength    = 4000
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	roomIDRegex = regexp.MustCompile(`^\S+$`)
	colorRegex  = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Validate checks the room id and normalizes the identity.
// An invalid color is cleared so the server assigns one instead.
func (e *JoinRoom) Validate() error {
	if !IsValidRoomID(e.RoomID) {
		return ErrInvalidRoomID
	}
	if e.Identity.Name == "" {
		e.Identity.Name = e.Username
	}
	e.Identity.Name = strings.TrimSpace(e.Identity.Name)
	if utf8.RuneCountInString(e.Identity.Name) > MaxDisplayNameLength {
		return ErrDisplayNameTooLong
	}
	if e.Identity.Color != "" && !colorRegex.MatchString(e.Identity.Color) {
		e.Identity.Color = ""
	}
	return nil
}

func (e *FileAdd) Validate() error {
	if e.ID == "" {
		return ErrMissingFileID
	}
	if len(e.Name) > MaxFileNameLength {
		return ErrFileNameTooLong
	}
	return nil
}

func (e *FileDelete) Validate() error {
	if e.ID == "" {
		return ErrMissingFileID
	}
	return nil
}

func (e *FileUpdate) Validate() error {
	if e.ID == "" {
		return ErrMissingFileID
	}
	return nil
}

func (e *FileRename) Validate() error {
	if e.ID == "" {
		return ErrMissingFileID
	}
	if strings.TrimSpace(e.Name) == "" {
		return ErrMissingFileName
	}
	if len(e.Name) > MaxFileNameLength {
		return ErrFileNameTooLong
	}
	return nil
}

func (e *LanguageChange) Validate() error {
	if e.ID == "" {
		return ErrMissingFileID
	}
	if e.Language == "" {
		return ErrMissingLanguage
	}
	return nil
}

func (e *CursorMove) Validate() error {
	if len(e.Position) == 0 {
		return ErrMissingCursorPosition
	}
	return nil
}

func (e *ChatSend) Validate() error {
	if strings.TrimSpace(e.Text) == "" {
		return ErrEmptyChatText
	}
	if utf8.RuneCountInString(e.Text) > MaxChatTextLength {
		return ErrChatTextTooLong
	}
	return nil
}

func (e *Signal) Validate() error {
	if e.Target == "" {
		return ErrMissingSignalTarget
	}
	return nil
}

// RunCode is not checked for a supported language here; unsupported
// languages produce an error result for the requester instead of a drop.
func (e *RunCode) Validate() error {
	return nil
}

// IsValidRoomID reports whether id is 1-128 non-whitespace characters.
func IsValidRoomID(id string) bool {
	if len(id) < 1 || len(id) > MaxRoomIDLength {
		return false
	}
	return roomIDRegex.MatchString(id)
}

// IsValidColor reports whether color is a #rrggbb hex string.
func IsValidColor(color string) bool {
	return colorRegex.MatchString(color)
}
