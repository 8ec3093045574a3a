// voiceloop - hands-free voice assistant loop
// Recognizer transcripts become prompts, replies are streamed sentence by
// sentence into the synthesizer while the recognizer is paused.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/teslashibe/go-voiceloop/internal/config"
	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/console"
	"github.com/teslashibe/go-voiceloop/pkg/history"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/process"
	"github.com/teslashibe/go-voiceloop/pkg/session"
	"github.com/teslashibe/go-voiceloop/pkg/web"
)

func main() {
	cfg := mustLoadConfig()
	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voiceloop: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	logger := log.L()
	logger.Info("startup: configuration loaded",
		"env", cfg.Env,
		"mode", cfg.InputMode,
		"send_mode", cfg.SendMode,
		"backend", cfg.Backend,
	)

	injector := setupDI(cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, injector); err != nil {
		logger.Error("session ended with error", "error", err)
		log.Close()
		os.Exit(1)
	}
	logger.Info("session ended")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceloop: %v\n", err)
		os.Exit(1)
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "voiceloop: configuration error: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// parseFlags applies command line overrides on top of the environment.
func parseFlags(cfg *config.Config) {
	mode := flag.String("mode", cfg.InputMode, "Input mode: voice or text")
	send := flag.String("send", cfg.SendMode, "Send mode: manual or auto")
	seg := flag.String("segment", cfg.SegmentMode, "Segmentation: minimal or extended")
	backend := flag.String("backend", cfg.Backend, "Inference backend: ollama or openai")
	model := flag.String("model", "", "Model name for the selected backend")
	fallback := flag.Bool("fallback", cfg.FallbackEnabled, "Fall back to the other backend on failure")
	serve := flag.Bool("serve-ollama", cfg.ManageOllama, "Start ollama serve when it is not running")
	container := flag.String("container", cfg.Container, "Recognizer container name")
	mic := flag.String("mic", cfg.Mic, "Recognizer microphone id")
	piperModel := flag.String("piper-model", cfg.PiperModel, "Synthesizer voice model")
	noAudio := flag.Bool("no-audio", cfg.NoAudio, "Print replies instead of speaking them")
	historyTurns := flag.Int("history", cfg.HistoryTurns, "Earlier turns included in each prompt")
	dashboard := flag.String("dashboard", cfg.DashboardAddr, "Operator API address, e.g. :8080")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	logFile := flag.String("log-file", cfg.LogFile, "Log file path")
	flag.Parse()

	cfg.InputMode, cfg.SendMode, cfg.SegmentMode = *mode, *send, *seg
	cfg.Backend, cfg.FallbackEnabled, cfg.ManageOllama = *backend, *fallback, *serve
	cfg.Container, cfg.Mic, cfg.PiperModel, cfg.NoAudio = *container, *mic, *piperModel, *noAudio
	cfg.DashboardAddr, cfg.LogLevel, cfg.LogFile = *dashboard, *logLevel, *logFile
	if *model != "" {
		if cfg.Backend == config.BackendOpenAI {
			cfg.OpenAIModel = *model
		} else {
			cfg.OllamaModel = *model
		}
	}
	if *historyTurns != cfg.HistoryTurns {
		cfg.HistoryTurns = *historyTurns
		if cfg.HistoryTurns > 0 && cfg.PromptTemplate == "" {
			cfg.PromptTemplate = config.DefaultPromptTemplate
		}
	}
}

func initLogger(cfg *config.Config) error {
	level := cfg.LogLevel
	if cfg.IsDevelopment() && level == "info" {
		level = "debug"
	}
	return log.Init(log.Options{
		Level:   level,
		File:    cfg.LogFile,
		Console: cfg.IsDevelopment(),
	})
}

func run(ctx context.Context, cfg *config.Config, injector do.Injector) error {
	logger := log.L()

	if cfg.ManageOllama {
		server, err := serveOllama(ctx, cfg, injector, logger)
		if err != nil {
			return err
		}
		if server != nil {
			defer func() {
				if err := server.Stop(cfg.GracePeriod); err != nil {
					logger.Warn("stop inference server", "error", err)
				}
			}()
		}
	}

	sup, err := do.Invoke[*session.Supervisor](injector)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	store := do.MustInvoke[history.Store](injector)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close history", "error", err)
		}
	}()

	printer := do.MustInvoke[*console.Printer](injector)
	sup.Observe(printer.Observer())

	surfaces, stopSurfaces := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopSurfaces()
		wg.Wait()
	}()

	if cfg.DashboardAddr != "" {
		srv, err := do.Invoke[*web.Server](injector)
		if err != nil {
			return fmt.Errorf("build operator API: %w", err)
		}
		sup.Observe(srv.Observer())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(surfaces); err != nil {
				logger.Error("operator API stopped", "error", err)
			}
		}()
	}

	mode := session.InputMode(cfg.InputMode)
	printer.Help(mode)
	// Stdin reads cannot be interrupted, so the reader is not waited for.
	go func() {
		if err := console.ReadInput(surfaces, os.Stdin, mode, sup.Submit); err != nil {
			logger.Warn("console input stopped", "error", err)
		}
	}()

	return sup.Run(ctx)
}

// serveOllama starts a local inference server when the provider is not
// already answering. The returned handle is nil when nothing was started.
func serveOllama(ctx context.Context, cfg *config.Config, injector do.Injector, logger *slog.Logger) (*process.Handle, error) {
	provider, err := do.Invoke[inference.Provider](injector)
	if err != nil {
		return nil, fmt.Errorf("build inference provider: %w", err)
	}
	return inference.ServeOllama(ctx, provider, inference.ServeOptions{
		Binary:      cfg.OllamaBinary,
		GracePeriod: cfg.GracePeriod,
		Logger:      logger,
	})
}
