package normalization

import (
	"strings"
)

func ParseInputString(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// ParseLanguageTag reduces a caller-provided language hint ("en-US, en;q=0.9",
// "PT-br") to a single lowercase primary tag suitable for map keys.
func ParseLanguageTag(input string) string {
	tag := strings.ToLower(strings.TrimSpace(input))
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = strings.TrimSpace(tag[:idx])
	}
	if idx := strings.Index(tag, ";"); idx >= 0 {
		tag = strings.TrimSpace(tag[:idx])
	}
	return tag
}
