package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"streamd/internal/backend"
	"streamd/internal/config"
	"streamd/internal/history"
	"streamd/internal/httpapi"
	"streamd/internal/pipeline"
	"streamd/internal/prompt"
	"streamd/internal/registry"
	"streamd/internal/sinks"
	"streamd/internal/trigger"
	"streamd/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath     string
		addr        string
		mode        string
		logLevel    string
		backendKind string
		model       string
		modelsDir   string
		concurrency int
		query       string
		historyOn   bool
	)
	root := &cobra.Command{
		Use:           "streamd",
		Short:         "Telemetry-driven LLM pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			loaded := false
			if cfgPath != "" {
				var err error
				cfg, err = config.Load(cfgPath)
				if err != nil {
					return err
				}
				loaded = true
			}
			// Flags beat the config file; flag defaults only apply when no
			// file is loaded or the flag was set explicitly.
			overlay := func(name string, apply func()) {
				if !loaded || cmd.Flags().Changed(name) {
					apply()
				}
			}
			overlay("addr", func() { cfg.Addr = addr })
			overlay("mode", func() { cfg.Mode = mode })
			overlay("backend", func() { cfg.Backend = backendKind })
			overlay("model", func() { cfg.Model = model })
			overlay("models-dir", func() { cfg.ModelsDir = modelsDir })
			overlay("concurrency", func() { cfg.Concurrency = concurrency })
			overlay("query", func() { cfg.Query = query })
			overlay("history", func() { cfg.HistoryEnabled = historyOn })
			return run(cmd.Context(), cfg, logLevel)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", envOr("STREAMD_CONFIG", ""), "Config file (.yaml|.json|.toml)")
	root.Flags().StringVar(&addr, "addr", envOr("STREAMD_ADDR", ":8080"), "HTTP listen address")
	root.Flags().StringVar(&mode, "mode", envOr("STREAMD_MODE", "daemon"), "Pipeline mode: daemon|continuous")
	root.Flags().StringVar(&logLevel, "log-level", envOr("STREAMD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.Flags().StringVar(&backendKind, "backend", envOr("STREAMD_BACKEND", "openai"), "Inference backend: local|openai")
	root.Flags().StringVar(&model, "model", envOr("STREAMD_MODEL", ""), "Model id (local: gguf file name; openai: model name)")
	root.Flags().StringVar(&modelsDir, "models-dir", envOr("STREAMD_MODELS_DIR", "~/models/llm"), "Directory to scan for *.gguf model files")
	root.Flags().IntVar(&concurrency, "concurrency", 1, "Max concurrent turns")
	root.Flags().StringVar(&query, "query", "", "Continuous-mode query when no trigger is pending")
	root.Flags().BoolVar(&historyOn, "history", true, "Keep rolling conversation history")
	return root
}

func run(ctx context.Context, cfg config.Config, logLevel string) error {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = envOr("STREAMD_BACKEND_URL", "http://127.0.0.1:8000")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("STREAMD_API_KEY")
	}
	if cfg.HistoryMaxTurns <= 0 {
		cfg.HistoryMaxTurns = 64
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are an observability assistant summarizing live telemetry."
	}

	adapter, modelRef, err := buildAdapter(cfg, log)
	if err != nil {
		return err
	}

	hist := history.New(cfg.HistoryMaxTurns, cfg.HistoryMaxBytes, cfg.HistoryEnabled)
	asm := prompt.New(cfg.SystemPrompt, cfg.PromptMaxBytes, prompt.ParseFormat(cfg.ChatFormat))
	disp := pipeline.NewDispatcher(log)
	defer disp.Close()

	sources, closers, err := wireCollaborators(cfg, disp, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	orch := pipeline.New(pipeline.Config{
		Mode:          pipeline.Mode(cfg.Mode),
		Concurrency:   cfg.Concurrency,
		QueueDepth:    cfg.QueueDepth,
		DropWhenFull:  cfg.DropWhenFull,
		TurnTimeout:   time.Duration(cfg.TurnTimeoutMS) * time.Millisecond,
		ShutdownGrace: time.Duration(cfg.ShutdownGraceMS) * time.Millisecond,
		Model:         modelRef,
		Params: backend.Params{
			Temperature:   float32(cfg.Temperature),
			TopP:          float32(cfg.TopP),
			TopK:          cfg.TopK,
			MaxTokens:     cfg.MaxTokens,
			Stop:          cfg.Stop,
			Seed:          cfg.Seed,
			RepeatPenalty: float32(cfg.RepeatPenalty),
		},
		Query: cfg.Query,
	}, adapter, hist, asm, disp, log)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(sources) > 0 {
		go trigger.Supervise(runCtx, log, orch.Triggers(), sources...)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(runCtx) }()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(runCtx)
	if cfg.CORSEnabled {
		// Empty lists fall back to go-chi/cors defaults.
		httpapi.SetCORSOptions(true, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(&service{orch: orch})}
	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("mode", cfg.Mode).Str("backend", cfg.Backend).Msg("streamd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
	}()

	select {
	case err := <-srvErr:
		stop()
		<-runDone
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return <-runDone
}

// buildAdapter selects the inference backend. The local variant needs a
// model file from the registry; the remote one takes the model name as-is.
func buildAdapter(cfg config.Config, log zerolog.Logger) (backend.Adapter, string, error) {
	switch cfg.Backend {
	case "local":
		models, err := registry.LoadDir(cfg.ModelsDir)
		if err != nil {
			return nil, "", fmt.Errorf("load models: %w", err)
		}
		model, err := registry.Resolve(models, cfg.Model)
		if err != nil {
			return nil, "", err
		}
		log.Info().Str("model", model.ID).Str("path", model.Path).Msg("using local backend")
		return backend.NewLlamaAdapter(cfg.LlamaCtx, cfg.LlamaThreads), model.Path, nil
	case "openai", "":
		return backend.NewOpenAIAdapter(cfg.BackendURL, cfg.APIKey,
			time.Duration(cfg.TurnTimeoutMS)*time.Millisecond, 10*time.Second, log), cfg.Model, nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q (want local or openai)", cfg.Backend)
	}
}

// wireCollaborators subscribes the configured sinks and builds the trigger
// sources. Returned closers are released on shutdown.
func wireCollaborators(cfg config.Config, disp *pipeline.Dispatcher, log zerolog.Logger) ([]trigger.Source, []io.Closer, error) {
	var sources []trigger.Source
	var closers []io.Closer

	if cfg.SubtitleFile != "" {
		f, err := os.OpenFile(cfg.SubtitleFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closers, fmt.Errorf("subtitle file: %w", err)
		}
		closers = append(closers, f)
		sub := sinks.NewSubtitle(f, 0)
		if err := disp.Subscribe("subtitle", sub.Interest(), cfg.SinkBuffer, sub); err != nil {
			return nil, closers, err
		}
	}
	if cfg.SDURL != "" {
		img := sinks.NewImage(cfg.SDURL, cfg.SDSaveDir, cfg.SDPromptBytes, log)
		if err := disp.Subscribe("image", img.Interest(), cfg.SinkBuffer, img); err != nil {
			return nil, closers, err
		}
	}
	if cfg.DeviceAddr != "" {
		conn, err := net.DialTimeout("tcp", cfg.DeviceAddr, 10*time.Second)
		if err != nil {
			return nil, closers, fmt.Errorf("device dial %s: %w", cfg.DeviceAddr, err)
		}
		closers = append(closers, conn)
		dev := sinks.NewDevice(conn)
		if err := disp.Subscribe("device", dev.Interest(), cfg.SinkBuffer, dev); err != nil {
			return nil, closers, err
		}
	}

	if cfg.SysStats {
		sources = append(sources, trigger.NewSysStats(time.Duration(cfg.PollIntervalMS)*time.Millisecond, log))
	}
	if cfg.CaptureAddr != "" {
		sources = append(sources, trigger.NewCapture(cfg.CaptureAddr, cfg.CaptureBatch, log))
	}
	if len(cfg.TwitchChannels) > 0 {
		chat := trigger.NewChat(cfg.TwitchNick, cfg.TwitchToken, cfg.TwitchChannels, log)
		sources = append(sources, chat)
		reply := sinks.NewChatReply(chat)
		if err := disp.Subscribe("chat_reply", reply.Interest(), cfg.SinkBuffer, reply); err != nil {
			return nil, closers, err
		}
	}
	return sources, closers, nil
}

// service adapts the orchestrator to the HTTP API surface.
type service struct {
	orch *pipeline.Orchestrator
}

func (s *service) Status() types.StatusResponse { return s.orch.Status() }
func (s *service) Ready() bool                  { return s.orch.Ready() }

func (s *service) Trigger(ctx context.Context, req types.TriggerRequest, w io.Writer, flush func()) error {
	ev := types.TriggerEvent{
		Source:     types.SourceManual,
		Payload:    req.Input,
		ReceivedAt: time.Now(),
	}
	return s.orch.Submit(ctx, ev, w, flush)
}
