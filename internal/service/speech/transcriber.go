package speech

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultModel   = "whisper-1"
	DefaultTimeout = 60 * time.Second
)

// Config 转写客户端配置。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// Client wraps the speech-to-text provider. It never retries: an empty or
// failed transcription goes straight back to the caller.
type Client struct {
	client   openai.Client
	model    string
	language string
	timeout  time.Duration
}

// NewClient 创建转写客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("transcription api key is required")
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:   openai.NewClient(opts...),
		model:    modelName,
		language: strings.TrimSpace(cfg.Language),
		timeout:  timeout,
	}, nil
}

// Transcribe submits audio with a MIME type derived from fileName and returns
// the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	if len(audio) == 0 {
		return "", &TranscriptionError{Kind: BadInput, Err: errors.New("audio is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name := uploadName(fileName)
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), name, MIMEType(name)),
		Model: openai.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = openai.String(c.language)
	}

	started := time.Now()
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		terr := classify(err)
		log.Printf("[speech] transcription failed kind=%s file=%s bytes=%d: %v", terr.Kind, name, len(audio), err)
		return "", terr
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		log.Printf("[speech] transcription returned no speech file=%s bytes=%d", name, len(audio))
		return "", &TranscriptionError{Kind: EmptyResult, Err: errors.New("no speech detected")}
	}

	log.Printf("[speech] transcribed file=%s bytes=%d chars=%d in %s", name, len(audio), len(text), time.Since(started).Round(time.Millisecond))
	return text, nil
}
