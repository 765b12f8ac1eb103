package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/aluiziolira/bookwise/client"
	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/metrics"
	"github.com/aluiziolira/bookwise/session"
)

// CLI is the bookwise command tree.
type CLI struct {
	Config      string `short:"c" help:"Path to a bookwise.yaml config file." type:"path"`
	BaseURL     string `help:"Backend API base URL. Empty uses the built-in catalogue."`
	MetricsAddr string `help:"Prometheus metrics listen address (e.g. :9090)."`
	Verbose     bool   `short:"v" help:"Enable debug logging."`

	Search      SearchCmd      `cmd:"" help:"Search the catalogue and compare offers."`
	Detail      DetailCmd      `cmd:"" help:"Show a book with its offers and price history."`
	Alert       AlertCmd       `cmd:"" help:"Create a price-drop alert for a book."`
	Export      ExportCmd      `cmd:"" help:"Export the offers of one or more searches."`
	Theme       ThemeCmd       `cmd:"" help:"Show or change the colour theme."`
	Interactive InteractiveCmd `cmd:"" help:"Type queries and refine results interactively."`
}

// app carries what every command needs once flags and config are resolved.
type app struct {
	ctx     context.Context
	cfg     *config.Config
	metrics *metrics.Metrics
	backend client.Backend
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
}

func (a *app) sessionOptions() []session.Option {
	return []session.Option{
		session.WithConfig(a.cfg),
		session.WithMetrics(a.metrics),
		session.WithLogger(a.logger),
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("bookwise"),
		kong.Description("Compare book prices across retailers, track price history and set price-drop alerts."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
	)
	if err != nil {
		fmt.Fprintf(stderr, "bookwise: %v\n", err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintf(stderr, "bookwise: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		fmt.Fprintf(stderr, "bookwise: %v\n", err)
		return 1
	}

	logger, level := newLogger(stderr, cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	shutdownMetrics := serveMetrics(cfg.MetricsAddr, m, logger)
	defer shutdownMetrics()

	backend, err := client.NewBackend(cfg, m, client.WithLogger(logger))
	if err != nil {
		logger.Error("initialising backend", slog.Any("error", err))
		return 1
	}
	logger.Debug("backend ready",
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("mock", cfg.BaseURL == ""),
	)

	a := &app{
		ctx:     ctx,
		cfg:     cfg,
		metrics: m,
		backend: backend,
		logger:  logger,
		in:      stdin,
		out:     stdout,
	}
	if err := kctx.Run(a); err != nil {
		fmt.Fprintf(stderr, "bookwise: %s\n", describeError(err))
		return 1
	}
	return 0
}

// loadConfig layers defaults, the config file and BOOKWISE_* variables, then
// applies the global flags on top.
func loadConfig(cli CLI) (*config.Config, error) {
	v := viper.New()
	if cli.Config != "" {
		v.SetConfigFile(cli.Config)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if cli.BaseURL != "" {
		cfg.BaseURL = cli.BaseURL
	}
	if cli.MetricsAddr != "" {
		cfg.MetricsAddr = cli.MetricsAddr
	}
	if cli.Verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serveMetrics exposes the registry when addr is set and returns the
// shutdown func.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	if addr == "" || m == nil {
		return func() {}
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = humanlog.NewHandler(f, &humanlog.Options{Level: level.Level()})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
