package knowledge

import (
	"fmt"
	"math"
	"strings"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
)

// SourcesMarker opens the human-readable sources trailer.
const SourcesMarker = "📚 Sources:"

// FormatSourcesTrailer renders sources as the trailer appended to answers.
// It returns "" when there is nothing to list.
func FormatSourcesTrailer(sources []model.SourceReference) string {
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(SourcesMarker)
	for _, src := range sources {
		title := strings.TrimSpace(src.Title)
		if title == "" {
			title = TitleFromFilename(src.Filename)
		}
		b.WriteString("\n• ")
		b.WriteString(title)
		if src.Similarity > 0 {
			fmt.Fprintf(&b, " (match: %d%%)", int(math.Round(src.Similarity*100)))
		}
	}
	return b.String()
}

// SplitSourcesTrailer separates an answer from its trailing sources block.
// body+trailer always equals text, so the trailer can be re-appended byte for byte.
// The last "📚 Sources" marker wins; a stray 📚 in the body is ignored.
func SplitSourcesTrailer(text string) (body, trailer string) {
	idx := -1
	for end := len(text); end > 0; {
		i := strings.LastIndex(text[:end], "📚")
		if i < 0 {
			break
		}
		if strings.HasPrefix(strings.TrimSpace(text[i+len("📚"):]), "Sources") {
			idx = i
			break
		}
		end = i
	}
	if idx < 0 {
		return text, ""
	}

	// 把标记前的空行一起归入 trailer
	start := idx
	for start > 0 && (text[start-1] == '\n' || text[start-1] == '\r' || text[start-1] == ' ') {
		start--
	}
	return text[:start], text[start:]
}

// TitleFromFilename turns "ATLS_10th-Edition.pdf" into "ATLS 10th Edition".
func TitleFromFilename(filename string) string {
	name := strings.TrimSpace(filename)
	if slash := strings.LastIndexAny(name, "/\\"); slash >= 0 {
		name = name[slash+1:]
	}
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Reference document"
	}
	return name
}
