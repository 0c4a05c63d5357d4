package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxCallIDLength = 128

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateCallID validates a provider call reference.
func ValidateCallID(id string) error {
	if len(id) == 0 {
		return errors.New("call ID cannot be empty")
	}
	if len(id) > maxCallIDLength {
		return errors.New("call ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("call ID must be valid UTF-8")
	}
	for _, r := range id {
		if r < 0x21 || r == 0x7f {
			return errors.New("call ID contains invalid characters")
		}
	}
	return nil
}
