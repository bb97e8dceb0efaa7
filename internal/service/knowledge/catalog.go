package knowledge

import (
	"sort"
	"strings"
	"unicode"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
)

const (
	DefaultTopK = 5

	minKeywordLen   = 4
	matchThreshold  = 0.3
	phraseMatchHint = 0.8
	acronymHint     = 0.7
)

// SourceInferrer guesses which reference documents support an answer when the
// provider returned none.
type SourceInferrer interface {
	Infer(text string) []model.SourceReference
}

// CatalogDocument is one known reference document.
type CatalogDocument struct {
	Filename string
	Title    string
	Preview  string
}

// DefaultCatalog 是知识库中已收录的参考资料。
func DefaultCatalog() []CatalogDocument {
	return []CatalogDocument{
		{Filename: "ATLS_10th_Edition.pdf", Title: "Advanced Trauma Life Support", Preview: "Primary and secondary survey, ABCDE approach, resuscitation priorities."},
		{Filename: "PHTLS_Prehospital_Trauma.pdf", Title: "Prehospital Trauma Life Support", Preview: "Scene assessment, field triage and transport decisions."},
		{Filename: "TCCC_Guidelines.pdf", Title: "Tactical Combat Casualty Care", Preview: "Care under fire, tactical field care, MARCH algorithm."},
		{Filename: "TNCC_Provider_Manual.pdf", Title: "Trauma Nursing Core Course", Preview: "Nursing assessment and interventions for the injured patient."},
		{Filename: "Stop_The_Bleed.pdf", Title: "Stop the Bleed Hemorrhage Control", Preview: "Direct pressure, wound packing and tourniquet application."},
		{Filename: "Massive_Transfusion_Protocol.pdf", Title: "Massive Transfusion Protocol", Preview: "Balanced blood product ratios and activation criteria."},
		{Filename: "Traumatic_Brain_Injury_Guidelines.pdf", Title: "Traumatic Brain Injury Management", Preview: "Glasgow Coma Scale, intracranial pressure and herniation signs."},
		{Filename: "Burn_Resuscitation.pdf", Title: "Burn Resuscitation and Management", Preview: "Parkland formula, burn depth and total body surface area."},
	}
}

// CatalogMatcher scores catalog titles against free text by keyword overlap.
type CatalogMatcher struct {
	Catalog []CatalogDocument
	TopK    int
}

// NewCatalogMatcher builds a matcher over the default catalog.
func NewCatalogMatcher(topK int) *CatalogMatcher {
	return &CatalogMatcher{Catalog: DefaultCatalog(), TopK: topK}
}

type scoredDocument struct {
	doc   CatalogDocument
	score float64
	index int
}

// Infer returns catalog documents matching text, best first.
func (m *CatalogMatcher) Infer(text string) []model.SourceReference {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil
	}
	words := make(map[string]struct{})
	for _, w := range splitWords(lower) {
		words[w] = struct{}{}
	}

	var hits []scoredDocument
	for i, doc := range m.Catalog {
		score := ScoreTitle(doc.Title, lower, words)
		if score > matchThreshold {
			hits = append(hits, scoredDocument{doc: doc, score: score, index: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	limit := m.TopK
	if limit <= 0 {
		limit = DefaultTopK
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]model.SourceReference, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.SourceReference{
			Filename:   h.doc.Filename,
			Title:      h.doc.Title,
			Preview:    h.doc.Preview,
			Similarity: h.score,
		})
	}
	return out
}

// ScoreTitle computes the match score of one title against lowercased text.
func ScoreTitle(title, lowerText string, words map[string]struct{}) float64 {
	keywords := TitleKeywords(title)
	if len(keywords) == 0 {
		return 0
	}

	found := 0
	for _, kw := range keywords {
		if strings.Contains(lowerText, kw) {
			found++
		}
	}
	score := float64(found) / float64(len(keywords))

	if strings.Contains(lowerText, strings.ToLower(strings.TrimSpace(title))) && score < phraseMatchHint {
		score = phraseMatchHint
	}
	if acronym := Acronym(keywords); len(acronym) >= 2 {
		if _, ok := words[acronym]; ok && score < acronymHint {
			score = acronymHint
		}
	}
	return score
}

// TitleKeywords returns the significant lowercase words of a title.
func TitleKeywords(title string) []string {
	var out []string
	for _, w := range splitWords(strings.ToLower(title)) {
		if len([]rune(w)) >= minKeywordLen {
			out = append(out, w)
		}
	}
	return out
}

// Acronym joins the first letters of the keywords.
func Acronym(keywords []string) string {
	var b strings.Builder
	for _, kw := range keywords {
		for _, r := range kw {
			b.WriteRune(r)
			break
		}
	}
	return b.String()
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
