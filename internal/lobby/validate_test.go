package lobby

import (
	"strings"
	"testing"
)

func TestValidateChatText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid short message", "hello lobby", false},
		{"empty message", "", true},
		{"single character", "x", false},
		{"unicode message", "héllo wörld 你好", false},
		{"at byte limit", strings.Repeat("a", MaxChatBytes), false},
		{"over byte limit", strings.Repeat("a", MaxChatBytes+1), true},
		{"at character limit", strings.Repeat("a", MaxChatChars), false},
		{"multibyte over char limit", strings.Repeat("é", MaxChatChars+1), true},
		{"invalid utf8", "hello\xff\xfeworld", true},
		{"whitespace only is allowed", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChatText() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
