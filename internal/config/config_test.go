package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "OPENAI_API_KEY", "OPENAI_BASE_URL", "TRANSCRIPTION_TIMEOUT", "RAG_BASE_URL", "RAG_TOP_K",
		"RAG_TIMEOUT", "PERSONALITY_API_KEY", "PERSONALITY_ENABLED", "PERSONALITY_TIMEOUT", "HEYGEN_API_KEY",
		"HEYGEN_BASE_URL", "HEYGEN_TIMEOUT", "PATIENT_TEMPERATURE", "PATIENT_MAX_TOKENS", "PATIENT_TIMEOUT",
		"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model", "PERSONALITY_MAX_CHARS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Transcription.Timeout != 60*time.Second {
		t.Fatalf("unexpected transcription timeout: %s", cfg.Transcription.Timeout)
	}
	if cfg.Knowledge.Timeout != 120*time.Second || cfg.Knowledge.TopK != 5 {
		t.Fatalf("unexpected knowledge config: %+v", cfg.Knowledge)
	}
	if cfg.Personality.Timeout != 20*time.Second || cfg.Personality.MaxChars != 4000 {
		t.Fatalf("unexpected personality config: %+v", cfg.Personality)
	}
	if cfg.Personality.Enabled {
		t.Fatal("personality rewrite requires an api key")
	}
	if cfg.Avatar.Enabled() {
		t.Fatal("avatar must be disabled without api key")
	}
	if cfg.Avatar.BaseURL != "https://api.heygen.com" {
		t.Fatalf("unexpected avatar base url: %s", cfg.Avatar.BaseURL)
	}
	if cfg.Patient.Temperature != 0.9 || cfg.Patient.MaxTokens != 150 {
		t.Fatalf("unexpected patient config: %+v", cfg.Patient)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RAG_TOP_K", "0")
	t.Setenv("RAG_TIMEOUT", "90s")
	t.Setenv("PERSONALITY_TIMEOUT", "5")
	t.Setenv("HEYGEN_API_KEY", "hg")
	t.Setenv("HEYGEN_BASE_URL", "http://localhost:3001/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Knowledge.TopK != 1 {
		t.Fatalf("top k must floor at 1, got %d", cfg.Knowledge.TopK)
	}
	if cfg.Knowledge.Timeout != 90*time.Second {
		t.Fatalf("unexpected knowledge timeout: %s", cfg.Knowledge.Timeout)
	}
	if cfg.Personality.Timeout != 5*time.Second {
		t.Fatalf("bare seconds must parse, got %s", cfg.Personality.Timeout)
	}
	if !cfg.Personality.Enabled || cfg.Personality.APIKey != "sk-test" {
		t.Fatalf("personality should inherit OPENAI_API_KEY: %+v", cfg.Personality)
	}
	if !cfg.Avatar.Enabled() || cfg.Avatar.BaseURL != "http://localhost:3001" {
		t.Fatalf("unexpected avatar config: %+v", cfg.Avatar)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                "80 80",
		"RAG_TIMEOUT":         "soon",
		"PATIENT_TEMPERATURE": "hot",
		"PERSONALITY_ENABLED": "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestPatientConfigEnabled(t *testing.T) {
	if (PatientConfig{Model: "m"}).Enabled() {
		t.Fatal("model alone is not enough")
	}
	if !(PatientConfig{Model: "m", APIKey: "k"}).Enabled() {
		t.Fatal("model + api key should enable")
	}
	if !(PatientConfig{Model: "m", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Fatal("model + AK/SK should enable")
	}
}
