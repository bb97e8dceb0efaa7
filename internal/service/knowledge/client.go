package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	model "github.com/zhouzirui/trauma-sim/backend/internal/model/knowledge"
)

const (
	DefaultPath    = "/v1/chat/completions"
	DefaultModel   = "medical-rag"
	DefaultTimeout = 120 * time.Second

	maxResponseBytes = 4 << 20
	upstreamErrorTag = "error calling llm"
)

// Config 知识库客户端配置。
type Config struct {
	BaseURL    string
	Path       string
	APIKey     string
	Model      string
	Timeout    time.Duration
	TopK       int
	HTTPClient *http.Client
	// Inferrer 在上游未返回来源时兜底推断，为空则使用默认目录。
	Inferrer SourceInferrer
}

// Client asks the retrieval-augmented chat provider. Ask never returns an
// error: any upstream failure becomes the fixed fallback response.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	topK       int
	timeout    time.Duration
	inferrer   SourceInferrer
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("knowledge base url is required")
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	inferrer := cfg.Inferrer
	if inferrer == nil {
		inferrer = NewCatalogMatcher(topK)
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   base + path,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      modelName,
		topK:       topK,
		timeout:    timeout,
		inferrer:   inferrer,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type askRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Question string        `json:"question"`
	TopK     int           `json:"top_k"`
}

// Ask 查询知识库并返回带来源的回答。
func (c *Client) Ask(ctx context.Context, question string) model.LLMResponse {
	question = strings.TrimSpace(question)
	if question == "" {
		log.Printf("[knowledge] empty question, returning fallback")
		return model.Fallback()
	}

	started := time.Now()
	answer, body, err := c.call(ctx, question)
	if err != nil {
		log.Printf("[knowledge] upstream unavailable after %s: %v", time.Since(started).Round(time.Millisecond), err)
		return model.Fallback()
	}

	sources := c.extractSources(body, question, answer)
	log.Printf("[knowledge] answered chars=%d sources=%d in %s", len(answer), len(sources), time.Since(started).Round(time.Millisecond))

	if sources == nil {
		sources = []model.SourceReference{}
	}
	return model.LLMResponse{
		Text:    answer + FormatSourcesTrailer(sources),
		Sources: sources,
	}
}

func (c *Client) call(ctx context.Context, question string) (string, gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(askRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: question}},
		Question: question,
		TopK:     c.topK,
	})
	if err != nil {
		return "", gjson.Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", gjson.Result{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, snippet(raw))
	}
	if !gjson.ValidBytes(raw) {
		return "", gjson.Result{}, fmt.Errorf("malformed response body: %s", snippet(raw))
	}

	body := gjson.ParseBytes(raw)
	answer := strings.TrimSpace(body.Get("choices.0.message.content").String())
	if answer == "" {
		answer = strings.TrimSpace(body.Get("answer").String())
	}
	if answer == "" {
		return "", gjson.Result{}, errors.New("response carried no answer")
	}
	// RAG 服务在模型调用失败时仍返回 200，把错误写进 answer
	if strings.HasPrefix(strings.ToLower(answer), upstreamErrorTag) {
		return "", gjson.Result{}, fmt.Errorf("upstream model failed: %s", answer)
	}
	return answer, body, nil
}

// extractSources tries provider sources, then context previews, then catalog
// inference, stopping at the first layer that yields anything. Only inferred
// sources are capped at topK; provider lists are returned as retrieved.
func (c *Client) extractSources(body gjson.Result, question, answer string) []model.SourceReference {
	if sources := structuredSources(body.Get("sources")); len(sources) > 0 {
		return sources
	}

	var previews []string
	body.Get("context_preview").ForEach(func(_, v gjson.Result) bool {
		previews = append(previews, v.String())
		return true
	})
	if sources := SourcesFromPreviews(previews); len(sources) > 0 {
		return sources
	}

	if c.inferrer == nil {
		return nil
	}
	return c.limit(c.inferrer.Infer(question + "\n" + answer))
}

func (c *Client) limit(sources []model.SourceReference) []model.SourceReference {
	if c.topK > 0 && len(sources) > c.topK {
		return sources[:c.topK]
	}
	return sources
}

func snippet(raw []byte) string {
	const snippetLen = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > snippetLen {
		return s[:snippetLen] + "..."
	}
	return s
}
