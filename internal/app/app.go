package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"MorningCall/internal/alarm"
	"MorningCall/internal/call"
	"MorningCall/internal/config"
	"MorningCall/internal/conversation"
	"MorningCall/internal/plan"
	"MorningCall/internal/search"
	"MorningCall/internal/speech"
	"MorningCall/internal/store"
	"MorningCall/internal/telemetry"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// App is the interactive morning-call terminal
type App struct {
	config config.Config
	store  *store.Store
	engine *conversation.Engine
	search search.Provider
	calls  *call.Controller
	alarms *alarm.Scheduler

	console *speech.Console // nil unless speech runs in the terminal
	bridge  *speech.Bridge
	server  *http.Server

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	in    io.Reader
	out   io.Writer
	outMu sync.Mutex

	closers []func()
}

// New initializes logging, telemetry and storage, then assembles the app
func New(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) (*App, error) {
	level := telemetry.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		shutdown()
		closeLog()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	a := assemble(cfg, store.New(backend, logger), in, out, logger, tracer, meter)
	a.closers = append([]func(){func() { closeLog() }, shutdown}, a.closers...)

	if err := a.seed(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.bridge != nil {
		if err := a.serveBridge(); err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Info("morningcall initialized",
		"store", cfg.StoreBackend,
		"speech", cfg.SpeechMode,
		"search", cfg.SearchProvider,
	)
	return a, nil
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return store.OpenSQLite(cfg.DBPath)
	}
}

// assemble wires the components around st
func assemble(cfg config.Config, st *store.Store, in io.Reader, out io.Writer, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *App {
	a := &App{
		config: cfg,
		store:  st,
		logger: logger,
		tracer: tracer,
		meter:  meter,
		in:     in,
		out:    out,
	}
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	})

	httpClient := &http.Client{Timeout: 60 * time.Second}

	var provider search.Provider = search.New(cfg.SearchProvider, cfg.SearchAPIKey, httpClient, logger)
	if cfg.SearchCacheTTL > 0 {
		provider = search.NewCached(provider, cfg.SearchCacheTTL, logger)
	}
	a.search = provider

	a.engine = conversation.NewEngine(st, conversation.Options{
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: httpClient,
		Search:     provider,
		Logger:     logger,
		Tracer:     tracer,
		Meter:      meter,
	})

	var transport speech.Transport
	if cfg.SpeechMode == config.SpeechBridge {
		a.bridge = speech.NewBridge(logger)
		transport = a.bridge
	} else {
		a.console = speech.NewConsole(out, cfg.ListenTimeout)
		transport = a.console
	}

	// Config uses 0 for no cap; the controller reads 0 as its default and < 0 as no cap.
	maxFailures := cfg.MaxRecognitionFailures
	if maxFailures == 0 {
		maxFailures = -1
	}
	a.calls = call.NewController(st, a.engine, transport, call.Options{
		Lang:                   cfg.Lang,
		PacingDelay:            cfg.PacingDelay,
		RetryDelay:             cfg.RetryDelay,
		MaxRecognitionFailures: maxFailures,
		Notifier:               a.notify,
		Logger:                 logger,
		Tracer:                 tracer,
		Meter:                  meter,
	})

	a.alarms = alarm.NewScheduler(a.onAlarm, logger)
	return a
}

// seed stores the credential and plan given in configuration
func (a *App) seed(ctx context.Context) error {
	if key := strings.TrimSpace(a.config.OpenAIAPIKey); key != "" {
		current, err := a.store.APIKey(ctx)
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		if current == "" {
			if err := conversation.ValidateAPIKey(key); err != nil {
				a.logger.Warn("ignoring configured API key", "error", err)
			} else if err := a.store.SaveAPIKey(ctx, key); err != nil {
				return fmt.Errorf("failed to save API key: %w", err)
			}
		}
	}
	if a.config.Plan != "" {
		id, err := plan.Parse(a.config.Plan)
		if err != nil {
			return fmt.Errorf("configured plan: %w", err)
		}
		if err := a.store.SetPlan(ctx, id); err != nil {
			return fmt.Errorf("failed to save plan: %w", err)
		}
	}
	return nil
}

func (a *App) serveBridge() error {
	mux := http.NewServeMux()
	mux.Handle("/speech", a.bridge)

	ln, err := net.Listen("tcp", a.config.BridgeAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.BridgeAddr, err)
	}
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("speech bridge server stopped", "error", err)
		}
	}()
	a.logger.Info("speech bridge listening", "addr", ln.Addr().String())
	a.printf("Speech bridge listening on ws://%s/speech\n", ln.Addr().String())
	return nil
}

// Run reads commands until /quit or end of input
func (a *App) Run(ctx context.Context) error {
	a.printf("=== Morning Call ===\n")
	if id, err := a.store.Plan(ctx); err == nil {
		a.printf("Plan: %s\n", plan.Resolve(id).Name)
	}
	a.printf("Type /help for commands, /quit to exit\n\n")

	scanner := bufio.NewScanner(a.in)
	for {
		if ctx.Err() != nil {
			break
		}
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				a.printf("Error: %v\n", err)
				a.logger.Error("command error", "command", strings.Fields(input)[0], "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		a.hear(input)
	}

	if _, err := a.calls.EndCall(ctx); err != nil {
		a.logger.Error("failed to end call on exit", "error", err)
	}
	a.calls.Wait()
	a.printf("Goodbye!\n")
	return scanner.Err()
}

// hear routes a typed line to the console microphone
func (a *App) hear(line string) {
	if a.calls.Status().State != call.StateActive {
		if line != "" {
			a.printf("No call in progress. Type /start to begin.\n")
		}
		return
	}
	if a.console == nil {
		a.printf("Speech comes from the connected device during a call.\n")
		return
	}
	if !a.console.Deliver(line) {
		a.printf("(not listening right now)\n")
	}
}

func (a *App) notify(n call.Notice) {
	a.logger.Debug("notice", "kind", n.Kind, "message", n.Message)
	a.printf("* %s\n", n.Message)
}

func (a *App) onAlarm(al alarm.Alarm) {
	a.printf("* Alarm: %s\n", al.Title)
	if err := a.calls.StartCall(context.Background()); err != nil {
		a.logger.Warn("alarm could not start call", "alarm", al.ID, "error", err)
		a.printf("Could not start the call: %v\n", err)
	}
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// Close releases everything New acquired, newest first
func (a *App) Close() {
	a.alarms.Close()
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shut down speech bridge", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
