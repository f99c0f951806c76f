// Entry point for abacusd, a stateless MCP calculator server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/abacusd/abacusd/internal/catalog"
	"github.com/abacusd/abacusd/internal/config"
	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/logctx"
	"github.com/abacusd/abacusd/internal/mcp"
	"github.com/abacusd/abacusd/internal/metrics"
	"github.com/abacusd/abacusd/internal/streamhttp"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _                                    _
   __ _| |__    __ _  ___ _   _ ___    __| |
  / _' | '_ \  / _' |/ __| | | / __|  / _' |
 | (_| | |_) || (_| | (__| |_| \__ \ | (_| |
  \__,_|_.__/  \__,_|\___|\__,_|___/  \__,_|
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $ABACUSD_CONFIG)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("ABACUSD_CONFIG")
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(*cfg)

	tools := catalog.Tools(cfg.EnablePowerTool)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Listen:  %s\n", cfg.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Tools:   %s\n", toolSummary(tools))
	if configPath != "" {
		green.Print("    ▶ ")
		fmt.Printf("Config:  %s\n", configPath)
	}
	fmt.Println()

	logger.Info("starting abacusd",
		slog.String("version", version),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.Bool("power_tool", cfg.EnablePowerTool),
	)

	rec := metrics.NewRecorder(metrics.WithCapacity(cfg.MetricsCapacity))

	factory, err := engine.NewFactory(
		mcp.ImplementationInfo{Name: "abacusd", Version: version, Title: "Abacus Calculator"},
		engine.WithTools(tools...),
		engine.WithResources(catalog.Resources()...),
		engine.WithResourceTemplates(catalog.ResourceTemplates()...),
		engine.WithPrompts(catalog.Prompts()...),
		engine.WithInstructions(catalog.Instructions),
		engine.WithRecorder(rec),
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("building engine factory: %w", err)
	}

	handler, err := streamhttp.New(factory, rec,
		streamhttp.WithLogger(logger),
		streamhttp.WithAllowedOrigins(cfg.AllowedOrigins),
		streamhttp.WithMaxBodyBytes(cfg.MaxBodyBytes),
		streamhttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		streamhttp.WithKeepAliveInterval(cfg.SSEKeepAlive),
	)
	if err != nil {
		return fmt.Errorf("building http handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr), slog.String("endpoint", "/mcp"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down", slog.Duration("grace", cfg.ShutdownGrace))
	case serveErr = <-errCh:
		logger.Error("server failed", slog.String("err", serveErr.Error()))
	}

	// The signal context is already canceled; the drain deadline needs its
	// own context.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", slog.String("err", err.Error()))
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	} else {
		logger.Info("shutdown complete")
	}

	return serveErr
}

func toolSummary(defs []engine.StaticTool) string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Descriptor.Name)
	}
	return strings.Join(names, ", ")
}

func setupLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = &colorHandler{level: level}
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(logctx.Wrap(handler))
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05.000") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, slog.Attr{Key: a.Key + "." + ga.Key, Value: ga.Value})
		}
		return
	}
	buf.WriteString(color.HiBlackString(" " + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened into dotted keys by writeAttr; the handler keeps
	// no separate group state.
	return h
}
