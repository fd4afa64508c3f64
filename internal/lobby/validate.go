package lobby

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxChatBytes caps the byte length of one chat message.
	MaxChatBytes = 4096

	// MaxChatChars caps the character count of one chat message.
	MaxChatChars = 2000
)

// ValidateChatText checks that a chat message meets content requirements.
// Frames failing validation are treated as malformed and dropped, never
// answered.
func ValidateChatText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxChatBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxChatBytes)
	}
	if utf8.RuneCountInString(text) > MaxChatChars {
		return fmt.Errorf("message exceeds %d character limit", MaxChatChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
