package utils

import (
	"strings"
	utf16 "unicode/utf16"
)

func StrLen(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// ContainsAnyFold reports whether any of keywords occurs in text, ignoring case.
// An empty keyword matches any text.
func ContainsAnyFold(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most n runes, adding "..." when something was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
