package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("HEYBUDDY_LLM_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearKeys(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Gemini.APIKey != "test-key" {
		t.Fatalf("expected api key from GEMINI_API_KEY")
	}
	if cfg.Live.OutputSampleRate != 24000 {
		t.Fatalf("unexpected output rate %d", cfg.Live.OutputSampleRate)
	}
	if len(cfg.LLM.Models) != 3 || cfg.LLM.Models[0] != "gemini-pro-latest" {
		t.Fatalf("unexpected default model chain %v", cfg.LLM.Models)
	}
}

func TestMissingAPIKeyIsFatal(t *testing.T) {
	clearKeys(t)
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestAPIKeyNotRequiredWithoutGemini(t *testing.T) {
	clearKeys(t)
	t.Setenv("HEYBUDDY_LIVE_ENABLED", "false")
	t.Setenv("HEYBUDDY_LLM_MODE", "mock")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearKeys(t)
	t.Setenv("HEYBUDDY_LLM_API_KEY", "override-key")
	t.Setenv("HEYBUDDY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("HEYBUDDY_BUS_USERNAME", "alice")
	t.Setenv("HEYBUDDY_BUS_PASSWORD", "secret")
	t.Setenv("HEYBUDDY_BUS_TLS_INSECURE", "true")
	t.Setenv("HEYBUDDY_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("HEYBUDDY_LIVE_VOICE", "Puck")
	t.Setenv("HEYBUDDY_LIVE_QUEUE_FRAMES", "32")
	t.Setenv("HEYBUDDY_LLM_MODELS", "gemini-flash-latest")
	t.Setenv("HEYBUDDY_HISTORY_PATH", "./tmp.db")
	t.Setenv("HEYBUDDY_HISTORY_RETENTION_MODE", "session")
	t.Setenv("HEYBUDDY_HISTORY_RETENTION_DAYS", "7")
	t.Setenv("HEYBUDDY_HISTORY_MAX_CONVERSATIONS", "123")
	t.Setenv("HEYBUDDY_HISTORY_VACUUM_ON_START", "true")
	t.Setenv("PORT", "8088")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gemini.APIKey != "override-key" {
		t.Fatalf("expected api key override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Live.Voice != "Puck" || cfg.Live.QueueFrames != 32 {
		t.Fatalf("expected live overrides, got %+v", cfg.Live)
	}
	if len(cfg.LLM.Models) != 1 || cfg.LLM.Models[0] != "gemini-flash-latest" {
		t.Fatalf("expected model override, got %v", cfg.LLM.Models)
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatalf("expected history path override")
	}
	if cfg.History.RetentionMode != "session" {
		t.Fatalf("expected history retention mode override")
	}
	if cfg.History.RetentionDays != 7 {
		t.Fatalf("expected history retention days override")
	}
	if cfg.History.MaxConversations != 123 {
		t.Fatalf("expected history max conversations override")
	}
	if !cfg.History.VacuumOnStart {
		t.Fatalf("expected history vacuum flag override")
	}
	if cfg.HTTP.Port != 8088 {
		t.Fatalf("expected PORT override, got %d", cfg.HTTP.Port)
	}
}

func TestLoadFile(t *testing.T) {
	clearKeys(t)
	tmp := t.TempDir()
	path := filepath.Join(tmp, "heybuddy.yaml")
	doc := `gemini:
  api_key: file-key
live:
  voice: Aoede
tts:
  enabled: true
  mode: http
  endpoint: http://tts.local/speak
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Live.Voice != "Aoede" || cfg.TTS.Endpoint != "http://tts.local/speak" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Live.Model == "" {
		t.Fatalf("defaults lost when loading file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearKeys(t)
	t.Setenv("GEMINI_API_KEY", "k")

	cases := map[string]map[string]string{
		"llm mode":       {"HEYBUDDY_LLM_MODE": "gpt"},
		"tts http":       {"HEYBUDDY_TTS_ENABLED": "true", "HEYBUDDY_TTS_MODE": "http"},
		"retention mode": {"HEYBUDDY_HISTORY_RETENTION_MODE": "forever"},
		"modality":       {"HEYBUDDY_LIVE_RESPONSE_MODALITIES": "VIDEO"},
		"exec command":   {"HEYBUDDY_LLM_MODE": "exec"},
		"clip window":    {"HEYBUDDY_LIVE_CLIP_WINDOW_MS": "20000"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
