package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/api"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/bus"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/config"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/history"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/live"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/live/gemini"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/llm"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/natsserver"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/persona"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/recorder"
	"github.com/Anukul-Chandra/Hey-Buddy/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	p, err := loadPersona(r.cfg.Persona)
	if err != nil {
		return err
	}
	if !p.ReportsStats() {
		r.logger.Warn("persona does not request a metadata block; stats will stay at defaults", slog.String("persona", p.Name))
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()
	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()
	if err := store.Prune(ctx); err != nil {
		r.logger.Warn("history prune failed", slog.String("error", err.Error()))
	}

	rec := recorder.NewService(ctx, r.cfg.Recorder, busClient, store, r.logger)
	if err := rec.Start(); err != nil {
		return fmt.Errorf("failed to start recorder: %w", err)
	}
	defer rec.Close()

	generator, err := llm.NewGenerator(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create chat generator: %w", err)
	}
	chatService := llm.NewService(ctx, r.cfg.LLM, p, busClient, generator, r.logger)
	if err := chatService.Start(); err != nil {
		return fmt.Errorf("failed to start chat service: %w", err)
	}
	defer chatService.Close()

	synth, err := tts.NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	ttsService := tts.NewService(ctx, r.cfg.TTS, busClient, synth, r.logger)
	if err := ttsService.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	defer ttsService.Close()

	// Turns only reach the store through the recorder, so the oversized
	// fallback follows it.
	var fallback recorder.Saver
	if r.cfg.Recorder.Enabled {
		fallback = store
	}
	opts := api.Options{
		Chat:           llm.NewClient(busClient, millis(r.cfg.LLM.TimeoutMS)+5*time.Second),
		HistoryTurns:   r.cfg.LLM.HistoryTurns,
		Store:          store,
		Publisher:      recorder.NewPublisher(busClient, fallback, r.logger),
		Metrics:        metricsHandler,
		AllowedOrigins: r.cfg.HTTP.AllowedOrigins,
		Live: api.LiveOptions{
			Session:           liveSession(r.cfg.Live, p),
			PermissionTimeout: millis(r.cfg.Live.PermissionTimeout),
			ClipWindow:        millis(r.cfg.Live.ClipWindowMS),
			MaxClipWindow:     millis(r.cfg.Live.MaxClipWindowMS),
		},
		Ready: func() bool {
			return r.ready.Load() && busClient.Healthy() && rec.Healthy() && chatService.Healthy() && ttsService.Healthy()
		},
	}
	if r.cfg.TTS.Enabled {
		opts.Speech = tts.NewClient(busClient, millis(r.cfg.TTS.TimeoutMS)+5*time.Second)
	}
	if r.cfg.Live.Enabled {
		dialer, err := gemini.NewDialer(ctx, r.cfg.Gemini.APIKey, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create live dialer: %w", err)
		}
		opts.Live.Dialer = dialer
	}
	server := api.NewServer(opts, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx, store)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("persona", p.Name),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.Bool("live", r.cfg.Live.Enabled),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context, store *history.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil {
				r.logger.Warn("history prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func loadPersona(cfg config.PersonaConfig) (persona.Persona, error) {
	if cfg.Path == "" {
		return persona.Default(), nil
	}
	p, err := persona.Load(cfg.Path)
	if err != nil {
		return persona.Persona{}, fmt.Errorf("failed to load persona: %w", err)
	}
	if err := persona.Validate(p); err != nil {
		return persona.Persona{}, fmt.Errorf("invalid persona %s: %w", cfg.Path, err)
	}
	return p, nil
}

func liveSession(cfg config.LiveConfig, p persona.Persona) live.Config {
	voice := cfg.Voice
	if voice == "" {
		voice = p.Voice
	}
	return live.Config{
		Connect: live.ConnectConfig{
			Model:              cfg.Model,
			ResponseModalities: cfg.ResponseModalities,
			Voice:              voice,
			SystemInstruction:  p.SystemInstruction,
			Safety:             p.SafetySettings(),
		},
		OutputRate: cfg.OutputSampleRate,
		QueueSize:  cfg.QueueFrames,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
