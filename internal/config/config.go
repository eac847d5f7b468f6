package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Gemini      GeminiConfig    `yaml:"gemini"`
	Persona     PersonaConfig   `yaml:"persona"`
	Live        LiveConfig      `yaml:"live"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	History     HistoryConfig   `yaml:"history"`
	Recorder    RecorderConfig  `yaml:"recorder"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// GeminiConfig holds credentials shared by the live session and the gemini
// chat backend. The key is normally supplied through GEMINI_API_KEY.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

type PersonaConfig struct {
	// Path to a persona manifest; empty selects the built-in persona.
	Path string `yaml:"path"`
}

type LiveConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Model              string   `yaml:"model"`
	ResponseModalities []string `yaml:"response_modalities"`
	Voice              string   `yaml:"voice"`
	OutputSampleRate   int      `yaml:"output_sample_rate"`
	QueueFrames        int      `yaml:"queue_frames"`
	ClipWindowMS       int      `yaml:"clip_window_ms"`
	MaxClipWindowMS    int      `yaml:"max_clip_window_ms"` // longer client requests are cut to this
	PermissionTimeout  int      `yaml:"permission_timeout_ms"`
}

type LLMConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Mode         string   `yaml:"mode"` // mock, gemini, ollama, exec
	Endpoint     string   `yaml:"endpoint"`
	Command      string   `yaml:"command"`
	Models       []string `yaml:"models"`
	MaxTokens    int      `yaml:"max_tokens"`
	Temperature  float64  `yaml:"temperature"`
	HistoryTurns int      `yaml:"history_turns"`
	TimeoutMS    int      `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // mock, exec, http; http bodies typed other than audio/pcm pass through encoded
	Command         string `yaml:"command"`
	Endpoint        string `yaml:"endpoint"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

type HistoryConfig struct {
	Path             string `yaml:"path"`
	RetentionMode    string `yaml:"retention_mode"`
	RetentionDays    int    `yaml:"retention_days"`
	MaxConversations int    `yaml:"max_conversations"`
	VacuumOnStart    bool   `yaml:"vacuum_on_start"`
}

type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		RuntimeName: "heybuddy",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 3001,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Live: LiveConfig{
			Enabled:            true,
			Model:              "gemini-2.0-flash-live-001",
			ResponseModalities: []string{"AUDIO"},
			OutputSampleRate:   24000,
			QueueFrames:        256,
			ClipWindowMS:       5000,
			MaxClipWindowMS:    15000,
			PermissionTimeout:  30000,
		},
		LLM: LLMConfig{
			Enabled:      true,
			Mode:         "gemini",
			Endpoint:     "http://localhost:11434",
			Models:       []string{"gemini-pro-latest", "gemini-flash-latest", "gemini-1.5-flash-latest"},
			MaxTokens:    1024,
			Temperature:  0.9,
			HistoryTurns: 20,
			TimeoutMS:    60000,
		},
		TTS: TTSConfig{
			Enabled:         false,
			Mode:            "mock",
			SampleRate:      24000,
			Channels:        1,
			ChunkDurationMS: 400,
			TimeoutMS:       45000,
		},
		History: HistoryConfig{
			Path:             "./data/heybuddy.db",
			RetentionMode:    "persistent",
			RetentionDays:    90,
			MaxConversations: 500,
		},
		Recorder: RecorderConfig{
			Enabled: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// UsesGemini reports whether any enabled component talks to the Gemini API.
func (c Config) UsesGemini() bool {
	return c.Live.Enabled || (c.LLM.Enabled && c.LLM.Mode == "gemini")
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "HEYBUDDY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "HEYBUDDY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "HEYBUDDY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HEYBUDDY_HTTP_PORT")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "HEYBUDDY_HTTP_ALLOWED_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "HEYBUDDY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "HEYBUDDY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "HEYBUDDY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "HEYBUDDY_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "HEYBUDDY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "HEYBUDDY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "HEYBUDDY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "HEYBUDDY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "HEYBUDDY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "HEYBUDDY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "HEYBUDDY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "HEYBUDDY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.Gemini.APIKey, "HEYBUDDY_LLM_API_KEY")
	overrideString(&cfg.Persona.Path, "HEYBUDDY_PERSONA_PATH")
	overrideBool(&cfg.Live.Enabled, "HEYBUDDY_LIVE_ENABLED")
	overrideString(&cfg.Live.Model, "HEYBUDDY_LIVE_MODEL")
	overrideStringSlice(&cfg.Live.ResponseModalities, "HEYBUDDY_LIVE_RESPONSE_MODALITIES")
	overrideString(&cfg.Live.Voice, "HEYBUDDY_LIVE_VOICE")
	overrideInt(&cfg.Live.OutputSampleRate, "HEYBUDDY_LIVE_OUTPUT_SAMPLE_RATE")
	overrideInt(&cfg.Live.QueueFrames, "HEYBUDDY_LIVE_QUEUE_FRAMES")
	overrideInt(&cfg.Live.ClipWindowMS, "HEYBUDDY_LIVE_CLIP_WINDOW_MS")
	overrideInt(&cfg.Live.MaxClipWindowMS, "HEYBUDDY_LIVE_MAX_CLIP_WINDOW_MS")
	overrideInt(&cfg.Live.PermissionTimeout, "HEYBUDDY_LIVE_PERMISSION_TIMEOUT_MS")
	overrideBool(&cfg.LLM.Enabled, "HEYBUDDY_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "HEYBUDDY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "HEYBUDDY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "HEYBUDDY_LLM_COMMAND")
	overrideStringSlice(&cfg.LLM.Models, "HEYBUDDY_LLM_MODELS")
	overrideInt(&cfg.LLM.MaxTokens, "HEYBUDDY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "HEYBUDDY_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.HistoryTurns, "HEYBUDDY_LLM_HISTORY_TURNS")
	overrideInt(&cfg.LLM.TimeoutMS, "HEYBUDDY_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "HEYBUDDY_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "HEYBUDDY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "HEYBUDDY_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "HEYBUDDY_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "HEYBUDDY_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "HEYBUDDY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "HEYBUDDY_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "HEYBUDDY_TTS_CHUNK_DURATION_MS")
	overrideInt(&cfg.TTS.TimeoutMS, "HEYBUDDY_TTS_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "HEYBUDDY_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "HEYBUDDY_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "HEYBUDDY_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxConversations, "HEYBUDDY_HISTORY_MAX_CONVERSATIONS")
	overrideBool(&cfg.History.VacuumOnStart, "HEYBUDDY_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Recorder.Enabled, "HEYBUDDY_RECORDER_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.UsesGemini() && strings.TrimSpace(cfg.Gemini.APIKey) == "" {
		return errors.New("gemini api key missing: set GEMINI_API_KEY")
	}
	if cfg.Live.Enabled {
		if cfg.Live.Model == "" {
			return errors.New("live.model must not be empty")
		}
		if len(cfg.Live.ResponseModalities) == 0 {
			return errors.New("live.response_modalities must not be empty")
		}
		for _, m := range cfg.Live.ResponseModalities {
			switch strings.ToUpper(m) {
			case "AUDIO", "TEXT":
			default:
				return fmt.Errorf("live.response_modalities: %q must be AUDIO or TEXT", m)
			}
		}
		if cfg.Live.OutputSampleRate <= 0 {
			return errors.New("live.output_sample_rate must be positive")
		}
		if cfg.Live.QueueFrames <= 0 {
			return errors.New("live.queue_frames must be >= 1")
		}
		if cfg.Live.ClipWindowMS <= 0 || cfg.Live.ClipWindowMS > cfg.Live.MaxClipWindowMS {
			return errors.New("live.clip_window_ms must be between 1 and live.max_clip_window_ms")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "gemini", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|gemini|ollama|exec")
		}
		if (cfg.LLM.Mode == "gemini" || cfg.LLM.Mode == "ollama") && len(cfg.LLM.Models) == 0 {
			return fmt.Errorf("llm.models must not be empty when mode=%s", cfg.LLM.Mode)
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
		if cfg.LLM.HistoryTurns < 0 {
			return errors.New("llm.history_turns must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "http":
		default:
			return errors.New("tts.mode must be one of mock|exec|http")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=http")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
