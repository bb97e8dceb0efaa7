package knowledge

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
)

const (
	previewTopSimilarity = 0.95
	previewSimilarityGap = 0.10
	previewMinSimilarity = 0.50
	previewMaxChars      = 200
)

var chunkLabelPattern = regexp.MustCompile(`\(([^,()]+), chunk[^)]*\)`)

// SourcesFromPreviews 从 "- (<file>, chunk N) <text>" 形式的检索片段中还原来源，
// 按文件首次出现去重，相似度从 0.95 起逐个递减 0.10，最低 0.50。
func SourcesFromPreviews(previews []string) []model.SourceReference {
	seen := make(map[string]struct{})
	var out []model.SourceReference
	for _, entry := range previews {
		loc := chunkLabelPattern.FindStringSubmatchIndex(entry)
		if loc == nil {
			continue
		}
		filename := strings.TrimSpace(entry[loc[2]:loc[3]])
		if filename == "" {
			continue
		}
		if _, dup := seen[filename]; dup {
			continue
		}
		seen[filename] = struct{}{}

		similarity := previewTopSimilarity - previewSimilarityGap*float64(len(out))
		if similarity < previewMinSimilarity {
			similarity = previewMinSimilarity
		}
		out = append(out, model.SourceReference{
			Filename:   filename,
			Title:      TitleFromFilename(filename),
			Preview:    truncatePreview(entry[loc[1]:]),
			Similarity: roundSimilarity(similarity),
		})
	}
	return out
}

// structuredSources reads a provider-supplied sources array. Entries may be
// objects or bare filenames.
func structuredSources(result gjson.Result) []model.SourceReference {
	if !result.IsArray() {
		return nil
	}
	var out []model.SourceReference
	result.ForEach(func(_, item gjson.Result) bool {
		var ref model.SourceReference
		if item.Type == gjson.String {
			ref.Filename = strings.TrimSpace(item.String())
		} else {
			ref.Filename = strings.TrimSpace(firstString(item, "filename", "source", "file"))
			ref.Title = strings.TrimSpace(firstString(item, "title", "name"))
			ref.Preview = truncatePreview(firstString(item, "preview", "content", "text"))
			for _, key := range []string{"similarity", "score"} {
				if v := item.Get(key); v.Exists() {
					ref.Similarity = clampSimilarity(v.Float())
					break
				}
			}
		}
		if ref.Filename == "" && ref.Title == "" {
			return true
		}
		if ref.Title == "" {
			ref.Title = TitleFromFilename(ref.Filename)
		}
		out = append(out, ref)
		return true
	})
	return out
}

func firstString(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func truncatePreview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewMaxChars {
		return text
	}
	return string(runes[:previewMaxChars]) + "..."
}

func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundSimilarity(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
