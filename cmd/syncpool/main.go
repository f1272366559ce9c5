package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/config"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/metrics"
	"github.com/ajitpratap0/syncpool/pkg/observability"
	"github.com/ajitpratap0/syncpool/pkg/registry"
)

var version = "0.1.0"

// app is the state shared by every command for one invocation
type app struct {
	configPath  string
	logLevel    string
	metricsAddr string
	profileMode string
	jsonOutput  bool

	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	server   *http.Server
	profiler interface{ Stop() }
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	a := &app{}
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "syncpool",
		Short: "syncpool - bounded object pools and synchronized queues",
		Long: `syncpool runs the threaded pool, queue and SyncObj scenarios, validates pool
configuration files and reports pool statistics.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd.Context()) },
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML or TOML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringVar(&a.profileMode, "profile", "", "Write a profile of the run (cpu, mem, mutex, block)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "syncpool v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newBenchCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newPoolsCmd(a))
	return root
}

// setup loads configuration and starts the process-wide services
func (a *app) setup(ctx context.Context) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = a.metricsAddr
	}
	a.cfg = cfg

	l, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(l)
	a.logger = l.With(zap.String("component", "syncpool-cli"))
	a.registry = registry.New(l)

	if err := observability.Initialize(cfg.Tracing); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		a.startMetrics()
	}
	return a.startProfile()
}

func (a *app) startMetrics() {
	path := a.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, observability.TracingMiddleware("syncpool")(metrics.Handler()))
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr), zap.String("path", path))
}

func (a *app) startProfile() error {
	var mode func(*profile.Profile)
	switch a.profileMode {
	case "":
		return nil
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfile
	case "mutex":
		mode = profile.MutexProfile
	case "block":
		mode = profile.BlockProfile
	default:
		return fmt.Errorf("unknown profile mode %q", a.profileMode)
	}
	a.profiler = profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook, profile.Quiet)
	return nil
}

// teardown stops what setup started, in reverse order
func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.profiler != nil {
		a.profiler.Stop()
	}
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	var err error
	if a.registry != nil {
		err = a.registry.Close()
	}
	if serr := observability.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}
