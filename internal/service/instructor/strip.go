package instructor

import (
	"regexp"
	"strings"
)

var sourcesTrailerPattern = regexp.MustCompile(`(?s)\n*📚\s*Sources:?.*$`)

// 标记清除失败时按顺序尝试的字面标记
var literalSourceMarkers = []string{
	"\n\nSources:\n",
	"\nSources:\n",
	"\nSources:",
	"Sources:",
	"\nReferences:\n",
	"References:",
}

// StripForSpeech removes the sources trailer so the avatar never reads it
// aloud. An empty result means the answer held nothing but sources.
func StripForSpeech(text string) string {
	stripped := sourcesTrailerPattern.ReplaceAllString(text, "")
	if stripped == text {
		for _, marker := range literalSourceMarkers {
			if idx := strings.Index(stripped, marker); idx >= 0 {
				stripped = stripped[:idx]
				break
			}
		}
	}
	return strings.TrimRight(stripped, " \t\r\n")
}
