package personality

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
	"github.com/zhouzirui/trauma-sim/backend/internal/service/knowledge"
)

const (
	DefaultModel    = "gpt-4o-mini"
	DefaultTimeout  = 20 * time.Second
	DefaultMaxChars = 4000
)

// Config 人设改写客户端配置。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxChars   int
	HTTPClient *http.Client
	Persona    persona.Persona
}

// Client restyles factual answers into the instructor's voice. Rewrite never
// fails: any problem returns the original answer untouched.
type Client struct {
	client   openaigo.Client
	model    string
	timeout  time.Duration
	maxChars int
	persona  persona.Persona
}

// NewClient builds a rewrite client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("personality api key is required")
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:   openaigo.NewClient(opts...),
		model:    modelName,
		timeout:  timeout,
		maxChars: maxChars,
		persona:  cfg.Persona,
	}, nil
}

// Rewrite restyles answer for question and re-attaches the original sources
// trailer verbatim.
func (c *Client) Rewrite(ctx context.Context, answer, question string) string {
	if strings.TrimSpace(answer) == "" || strings.TrimSpace(question) == "" {
		return answer
	}

	body, trailer := knowledge.SplitSourcesTrailer(answer)
	content := strings.TrimSpace(body)
	if content == "" {
		return answer
	}

	p := RewritePrompt{
		Persona:  c.persona,
		Question: strings.TrimSpace(question),
		Content:  truncateTail(content, c.maxChars),
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(c.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(p.System()),
			openaigo.UserMessage(p.User()),
		},
	})
	if err != nil {
		log.Printf("[personality] rewrite failed after %s, keeping original: %v", time.Since(started).Round(time.Millisecond), err)
		return answer
	}
	if len(resp.Choices) == 0 {
		log.Printf("[personality] rewrite returned no choices, keeping original")
		return answer
	}

	// 模型偶尔会自己补一段来源，统一丢弃后再拼回原始 trailer
	rewritten, _ := knowledge.SplitSourcesTrailer(resp.Choices[0].Message.Content)
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		log.Printf("[personality] rewrite returned empty content, keeping original")
		return answer
	}

	log.Printf("[personality] rewrote answer chars=%d->%d in %s", len(content), len(rewritten), time.Since(started).Round(time.Millisecond))
	return rewritten + trailer
}
