package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/samber/do/v2"
	"github.com/teslashibe/go-voiceloop/internal/config"
	"github.com/teslashibe/go-voiceloop/pkg/console"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/history"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/recognizer"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/session"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
	"github.com/teslashibe/go-voiceloop/pkg/web"
)

// Named services for the two control channels.
const (
	recognizerPipeName = "pipe.recognizer"
	operatorPipeName   = "pipe.operator"
)

func setupDI(cfg *config.Config, logger *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	registerInference(injector)
	registerSink(injector)
	registerRecognizer(injector)
	registerHistory(injector)
	registerSession(injector)
	registerSurfaces(injector)

	return injector
}

func newOllama(cfg *config.Config, logger *slog.Logger) (inference.Provider, error) {
	return inference.NewOllama(
		inference.WithBaseURL(cfg.OllamaURL),
		inference.WithModel(cfg.OllamaModel),
		inference.WithNumCtx(cfg.NumCtx),
		inference.WithKeepAlive(cfg.KeepAlive),
		inference.WithStreamTimeout(cfg.StreamTimeout),
		inference.WithLogger(logger),
	)
}

func newOpenAI(cfg *config.Config, logger *slog.Logger) (inference.Provider, error) {
	return inference.NewOpenAI(
		inference.WithBaseURL(cfg.OpenAIBaseURL),
		inference.WithAPIKey(cfg.OpenAIKey),
		inference.WithModel(cfg.OpenAIModel),
		inference.WithNumCtx(cfg.NumCtx),
		inference.WithStreamTimeout(cfg.StreamTimeout),
		inference.WithLogger(logger),
	)
}

func registerInference(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (inference.Provider, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)

		primary, secondary := newOllama, newOpenAI
		if cfg.Backend == config.BackendOpenAI {
			primary, secondary = newOpenAI, newOllama
		}
		p, err := primary(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", cfg.Backend, err)
		}
		if !cfg.FallbackEnabled {
			return p, nil
		}
		fallback, err := secondary(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider: %w", err)
		}
		return inference.NewChainWithLogger(logger, p, fallback)
	})
}

func registerSink(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (tts.Sink, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)

		if cfg.NoAudio {
			// The console printer already shows every unit.
			return tts.NewRecorder(), nil
		}

		var stderr io.Writer
		if cfg.PiperLogFile != "" {
			f, err := os.OpenFile(cfg.PiperLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open synthesizer log: %w", err)
			}
			stderr = f
		}
		// The synthesizer outlives the signal context; the session closes it.
		return tts.NewPiper(context.Background(),
			tts.WithBinary(cfg.PiperBinary),
			tts.WithModel(cfg.PiperModel),
			tts.WithPlayback(cfg.PlaybackBinary),
			tts.WithSampleRate(cfg.SampleRate),
			tts.WithStderrLog(stderr),
			tts.WithGracePeriod(cfg.GracePeriod),
			tts.WithLogger(logger),
		)
	})
}

func registerRecognizer(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*recognizer.Runner, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)

		opts := []recognizer.Option{
			recognizer.WithCommand(cfg.RecognizerCommand, cfg.RecognizerArgs...),
			recognizer.WithContainer(cfg.Container),
			recognizer.WithMic(cfg.Mic),
			recognizer.WithPipe(cfg.RecognizerPipe),
			recognizer.WithCycleTimeout(cfg.CycleTimeout),
			recognizer.WithGracePeriod(cfg.GracePeriod),
			recognizer.WithLogger(logger),
		}
		if cfg.RestartOnFailure {
			opts = append(opts, recognizer.WithRestart(cfg.MaxRetries, cfg.RetryBackoff))
		} else {
			opts = append(opts, recognizer.WithoutRestart())
		}
		return recognizer.New(opts...)
	})

	do.ProvideNamed(injector, recognizerPipeName, func(i do.Injector) (*control.Channel, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return control.New(cfg.RecognizerPipe, control.WithLogger(logger)), nil
	})
	do.ProvideNamed(injector, operatorPipeName, func(i do.Injector) (*control.Channel, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return control.New(cfg.ControlPipe, control.WithLogger(logger)), nil
	})
}

func registerHistory(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (history.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DatabaseURL != "" {
			return history.OpenPostgres(context.Background(), cfg.DatabaseURL)
		}
		return history.NewJSONStore(cfg.HistoryFile)
	})
}

func registerSession(injector do.Injector) {
	do.ProvideValue(injector, session.NewMetricsCollector())

	do.Provide(injector, func(i do.Injector) (*session.Supervisor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)

		sendMode, err := session.ParseSendMode(cfg.SendMode)
		if err != nil {
			return nil, err
		}
		segMode, err := segment.ParseMode(cfg.SegmentMode)
		if err != nil {
			return nil, err
		}

		deps := session.Deps{
			Provider:     do.MustInvoke[inference.Provider](i),
			Sink:         do.MustInvoke[tts.Sink](i),
			OperatorPipe: do.MustInvokeNamed[*control.Channel](i, operatorPipeName),
			History:      do.MustInvoke[history.Store](i),
			Metrics:      do.MustInvoke[*session.MetricsCollector](i),
		}
		mode := session.InputMode(cfg.InputMode)
		if mode == session.VoiceMode {
			deps.Recognizer = do.MustInvoke[*recognizer.Runner](i)
			deps.RecognizerPipe = do.MustInvokeNamed[*control.Channel](i, recognizerPipeName)
		}

		return session.New(deps,
			session.WithMode(mode),
			session.WithSendMode(sendMode),
			session.WithSegmentMode(segMode),
			session.WithPromptTemplate(cfg.PromptTemplate, cfg.HistoryTurns),
			session.WithErrorPhrase(cfg.ErrorPhrase),
			session.WithMaxInferenceFailures(cfg.MaxInferenceFailures),
			session.WithControlTimeout(cfg.ControlTimeout),
			session.WithShutdownTimeout(2*cfg.GracePeriod),
			session.WithLogger(logger),
		)
	})
}

func registerSurfaces(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*console.Printer, error) {
		return console.NewPrinter(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())), nil
	})

	do.Provide(injector, func(i do.Injector) (*web.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		sup := do.MustInvoke[*session.Supervisor](i)
		store := do.MustInvoke[history.Store](i)
		return web.NewServer(cfg.DashboardAddr, sup, store, logger), nil
	})
}
