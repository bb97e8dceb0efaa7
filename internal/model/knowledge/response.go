package knowledge

// FallbackText is spoken whenever the reference services cannot answer.
const FallbackText = "I'm sorry, the medical reference services are offline right now. Please try your question again in a moment."

// SourceReference 表示一条检索命中的参考文档。
type SourceReference struct {
	Filename   string  `json:"filename"`
	Title      string  `json:"title"`
	Preview    string  `json:"preview,omitempty"`
	Similarity float64 `json:"similarity"`
}

// LLMResponse is the orchestrator's unit of output. Sources are ordered by
// relevance, most relevant first.
type LLMResponse struct {
	Text       string            `json:"text"`
	Sources    []SourceReference `json:"sources"`
	IsFallback bool              `json:"isFallback"`
}

// Fallback returns the fixed degraded response: apology text and no sources.
func Fallback() LLMResponse {
	return LLMResponse{Text: FallbackText, Sources: []SourceReference{}, IsFallback: true}
}
