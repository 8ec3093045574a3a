package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultPromptTemplate keeps replies short enough to synthesize quickly.
const DefaultPromptTemplate = `You are a helpful and friendly AI assistant. You are polite, respectful, and aim to provide concise responses of less than 20 words.

The conversation transcript is as follows:
{history}

And here is the user's follow-up: {input}

Your response:`

type envConfig struct {
	Env string `env:"ENV" envDefault:"production"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE" envDefault:"app.log"`

	InputMode            string        `env:"INPUT_MODE" envDefault:"voice"`
	SendMode             string        `env:"SEND_MODE" envDefault:"manual"`
	SegmentMode          string        `env:"SEGMENT_MODE" envDefault:"extended"`
	ErrorPhrase          string        `env:"ERROR_PHRASE" envDefault:"Error from server."`
	MaxInferenceFailures int           `env:"MAX_INFERENCE_FAILURES" envDefault:"3"`
	ControlTimeout       time.Duration `env:"CONTROL_TIMEOUT" envDefault:"2s"`

	Backend         string        `env:"BACKEND" envDefault:"ollama"`
	FallbackEnabled bool          `env:"FALLBACK_ENABLED" envDefault:"false"`
	OllamaURL       string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel     string        `env:"OLLAMA_MODEL" envDefault:"tinydolphin"`
	NumCtx          int           `env:"NUM_CTX" envDefault:"2048"`
	KeepAlive       string        `env:"KEEP_ALIVE" envDefault:"-1s"`
	StreamTimeout   time.Duration `env:"STREAM_TIMEOUT" envDefault:"2m"`
	ManageOllama    bool          `env:"MANAGE_OLLAMA" envDefault:"false"`
	OllamaBinary    string        `env:"OLLAMA_BINARY" envDefault:"ollama"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" envDefault:"http://localhost:11434/v1"`
	OpenAIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"tinydolphin"`

	PromptTemplate string `env:"PROMPT_TEMPLATE"`
	HistoryTurns   int    `env:"HISTORY_TURNS" envDefault:"0"`
	HistoryFile    string `env:"HISTORY_FILE"`
	DatabaseURL    string `env:"DATABASE_URL"`

	PiperBinary    string `env:"PIPER_BINARY" envDefault:"./piper"`
	PiperModel     string `env:"PIPER_MODEL" envDefault:"en_GB-cori-medium.onnx"`
	PiperLogFile   string `env:"PIPER_LOG_FILE" envDefault:"piper_logs.txt"`
	PlaybackBinary string `env:"PLAYBACK_BINARY" envDefault:"aplay"`
	SampleRate     int    `env:"SAMPLE_RATE" envDefault:"22050"`
	NoAudio        bool   `env:"NO_AUDIO" envDefault:"false"`

	RecognizerCommand string        `env:"RECOGNIZER_COMMAND" envDefault:"docker"`
	RecognizerArgs    []string      `env:"RECOGNIZER_ARGS" envSeparator:" "`
	Container         string        `env:"RECOGNIZER_CONTAINER" envDefault:"charming_benz"`
	Mic               string        `env:"RECOGNIZER_MIC" envDefault:"11"`
	RecognizerPipe    string        `env:"RECOGNIZER_PIPE" envDefault:"voice_recognition_pipe"`
	CycleTimeout      time.Duration `env:"RECOGNIZER_CYCLE_TIMEOUT" envDefault:"10m"`
	RestartOnFailure  bool          `env:"RECOGNIZER_RESTART" envDefault:"true"`
	MaxRetries        int           `env:"RECOGNIZER_MAX_RETRIES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"RECOGNIZER_RETRY_BACKOFF" envDefault:"500ms"`

	GracePeriod time.Duration `env:"GRACE_PERIOD" envDefault:"3s"`

	ControlPipe   string `env:"CONTROL_PIPE" envDefault:"voiceloop_control"`
	DashboardAddr string `env:"DASHBOARD_ADDR"`
}

// DefaultRecognizerArgs launches the containerized ASR example script.
var DefaultRecognizerArgs = []string{
	"exec", "-i", "{container}",
	"python3", "-u", "examples/asr.py",
	"--mic", "{mic}",
	"--pipe", "{pipe}",
}

// Load reads an optional .env file and the environment into a Config.
// The result is not validated; callers apply flag overrides first and then call Validate.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}

	cfg := &Config{
		Env:                  raw.Env,
		LogLevel:             raw.LogLevel,
		LogFile:              raw.LogFile,
		InputMode:            raw.InputMode,
		SendMode:             raw.SendMode,
		SegmentMode:          raw.SegmentMode,
		ErrorPhrase:          raw.ErrorPhrase,
		MaxInferenceFailures: raw.MaxInferenceFailures,
		ControlTimeout:       raw.ControlTimeout,
		Backend:              raw.Backend,
		FallbackEnabled:      raw.FallbackEnabled,
		OllamaURL:            raw.OllamaURL,
		OllamaModel:          raw.OllamaModel,
		NumCtx:               raw.NumCtx,
		KeepAlive:            raw.KeepAlive,
		StreamTimeout:        raw.StreamTimeout,
		ManageOllama:         raw.ManageOllama,
		OllamaBinary:         raw.OllamaBinary,
		OpenAIBaseURL:        raw.OpenAIBaseURL,
		OpenAIKey:            raw.OpenAIKey,
		OpenAIModel:          raw.OpenAIModel,
		PromptTemplate:       raw.PromptTemplate,
		HistoryTurns:         raw.HistoryTurns,
		HistoryFile:          raw.HistoryFile,
		DatabaseURL:          raw.DatabaseURL,
		PiperBinary:          raw.PiperBinary,
		PiperModel:           raw.PiperModel,
		PiperLogFile:         raw.PiperLogFile,
		PlaybackBinary:       raw.PlaybackBinary,
		SampleRate:           raw.SampleRate,
		NoAudio:              raw.NoAudio,
		RecognizerCommand:    raw.RecognizerCommand,
		RecognizerArgs:       raw.RecognizerArgs,
		Container:            raw.Container,
		Mic:                  raw.Mic,
		RecognizerPipe:       raw.RecognizerPipe,
		CycleTimeout:         raw.CycleTimeout,
		RestartOnFailure:     raw.RestartOnFailure,
		MaxRetries:           raw.MaxRetries,
		RetryBackoff:         raw.RetryBackoff,
		GracePeriod:          raw.GracePeriod,
		ControlPipe:          raw.ControlPipe,
		DashboardAddr:        raw.DashboardAddr,
	}
	if len(cfg.RecognizerArgs) == 0 {
		cfg.RecognizerArgs = append([]string(nil), DefaultRecognizerArgs...)
	}
	if cfg.PromptTemplate == "" && cfg.HistoryTurns > 0 {
		cfg.PromptTemplate = DefaultPromptTemplate
	}
	return cfg, nil
}
