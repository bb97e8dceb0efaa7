package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	Transcription TranscriptionConfig
	Knowledge     KnowledgeConfig
	Personality   PersonalityConfig
	Avatar        AvatarConfig
	Patient       PatientConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	transcription, err := loadTranscriptionConfig()
	if err != nil {
		return nil, err
	}

	knowledge, err := loadKnowledgeConfig()
	if err != nil {
		return nil, err
	}

	personality, err := loadPersonalityConfig()
	if err != nil {
		return nil, err
	}

	avatar, err := loadAvatarConfig()
	if err != nil {
		return nil, err
	}

	patient, err := loadPatientConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		Transcription: transcription,
		Knowledge:     knowledge,
		Personality:   personality,
		Avatar:        avatar,
		Patient:       patient,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// TranscriptionConfig 描述语音转写服务配置。
type TranscriptionConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	Timeout    time.Duration
	MaxRetries int
}

// Enabled 表示是否提供了转写凭证。
func (c TranscriptionConfig) Enabled() bool {
	return c.APIKey != ""
}

// KnowledgeConfig 描述 RAG 知识库服务配置。
type KnowledgeConfig struct {
	BaseURL string
	Path    string
	APIKey  string
	Model   string
	Timeout time.Duration
	TopK    int
}

// Enabled 表示是否配置了知识库地址。
func (c KnowledgeConfig) Enabled() bool {
	return c.BaseURL != ""
}

// PersonalityConfig 描述讲师人格改写配置。
type PersonalityConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	MaxChars int
	Enabled  bool
}

// AvatarConfig 描述数字人流式服务配置。
type AvatarConfig struct {
	APIKey             string
	BaseURL            string
	InstructorAvatarID string
	InstructorVoiceID  string
	PatientAvatarID    string
	PatientVoiceID     string
	Quality            string
	Timeout            time.Duration
}

// Enabled 表示是否提供了数字人 API Key。
func (c AvatarConfig) Enabled() bool {
	return c.APIKey != ""
}

// PatientConfig 描述模拟病人所用大模型配置。
type PatientConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c PatientConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c PatientConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	temperature := c.Temperature
	maxTokens := c.MaxTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
	if c.Timeout > 0 {
		timeout := c.Timeout
		cfg.Timeout = &timeout
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadTranscriptionConfig() (TranscriptionConfig, error) {
	timeout, err := parseDurationEnv("TRANSCRIPTION_TIMEOUT", 60*time.Second)
	if err != nil {
		return TranscriptionConfig{}, err
	}

	return TranscriptionConfig{
		APIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:  getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:    getEnvOrDefault("TRANSCRIPTION_MODEL", "whisper-1"),
		Language: getEnvOrDefault("TRANSCRIPTION_LANGUAGE", "en"),
		Timeout:  timeout,
		// 转写失败直接交给调用方决定是否重录
		MaxRetries: 0,
	}, nil
}

func loadKnowledgeConfig() (KnowledgeConfig, error) {
	timeout, err := parseDurationEnv("RAG_TIMEOUT", 120*time.Second)
	if err != nil {
		return KnowledgeConfig{}, err
	}

	topK := 5
	if override, err := parseOptionalIntEnv("RAG_TOP_K"); err != nil {
		return KnowledgeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			topK = 1
		} else {
			topK = *override
		}
	}

	return KnowledgeConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("RAG_BASE_URL")), "/"),
		Path:    getEnvOrDefault("RAG_PATH", "/v1/chat/completions"),
		APIKey:  strings.TrimSpace(os.Getenv("RAG_API_KEY")),
		Model:   getEnvOrDefault("RAG_MODEL", "medical-rag"),
		Timeout: timeout,
		TopK:    topK,
	}, nil
}

func loadPersonalityConfig() (PersonalityConfig, error) {
	timeout, err := parseDurationEnv("PERSONALITY_TIMEOUT", 20*time.Second)
	if err != nil {
		return PersonalityConfig{}, err
	}

	maxChars := 4000
	if override, err := parseOptionalIntEnv("PERSONALITY_MAX_CHARS"); err != nil {
		return PersonalityConfig{}, err
	} else if override != nil && *override > 0 {
		maxChars = *override
	}

	apiKey := strings.TrimSpace(os.Getenv("PERSONALITY_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	enabled, err := parseBoolEnv("PERSONALITY_ENABLED", true)
	if err != nil {
		return PersonalityConfig{}, err
	}

	return PersonalityConfig{
		APIKey:   apiKey,
		BaseURL:  getEnvOrDefault("PERSONALITY_BASE_URL", getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")),
		Model:    getEnvOrDefault("PERSONALITY_MODEL", "gpt-4o-mini"),
		Timeout:  timeout,
		MaxChars: maxChars,
		Enabled:  enabled && apiKey != "",
	}, nil
}

func loadAvatarConfig() (AvatarConfig, error) {
	timeout, err := parseDurationEnv("HEYGEN_TIMEOUT", 120*time.Second)
	if err != nil {
		return AvatarConfig{}, err
	}

	return AvatarConfig{
		APIKey:             strings.TrimSpace(os.Getenv("HEYGEN_API_KEY")),
		BaseURL:            strings.TrimRight(getEnvOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com"), "/"),
		InstructorAvatarID: strings.TrimSpace(os.Getenv("HEYGEN_INSTRUCTOR_AVATAR_ID")),
		InstructorVoiceID:  strings.TrimSpace(os.Getenv("HEYGEN_INSTRUCTOR_VOICE_ID")),
		PatientAvatarID:    strings.TrimSpace(os.Getenv("HEYGEN_PATIENT_AVATAR_ID")),
		PatientVoiceID:     strings.TrimSpace(os.Getenv("HEYGEN_PATIENT_VOICE_ID")),
		Quality:            getEnvOrDefault("HEYGEN_QUALITY", "medium"),
		Timeout:            timeout,
	}, nil
}

func loadPatientConfig() (PatientConfig, error) {
	temperature := float32(0.9)
	if override, err := parseOptionalFloatEnv("PATIENT_TEMPERATURE"); err != nil {
		return PatientConfig{}, err
	} else if override != nil {
		temperature = float32(*override)
	}

	maxTokens := 150
	if override, err := parseOptionalIntEnv("PATIENT_MAX_TOKENS"); err != nil {
		return PatientConfig{}, err
	} else if override != nil && *override > 0 {
		maxTokens = *override
	}

	timeout, err := parseDurationEnv("PATIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return PatientConfig{}, err
	}

	return PatientConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 Go duration（如 "45s"）或纯秒数。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
