package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-live/internal/dotenv"
	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/core/live/gemini"
	"github.com/vango-go/vai-live/pkg/gateway/config"
	"github.com/vango-go/vai-live/pkg/gateway/live/session"
	"github.com/vango-go/vai-live/pkg/gateway/metrics"
	"github.com/vango-go/vai-live/pkg/gateway/profiles"
	"github.com/vango-go/vai-live/pkg/gateway/recordings"
	gatewayserver "github.com/vango-go/vai-live/pkg/gateway/server"
	"github.com/vango-go/vai-live/pkg/gateway/tokens"
)

var version = "dev"

type liveDeps struct {
	loadConfig   func() (config.Config, error)
	newDialer    func(ctx context.Context, cfg config.Config) (live.Dialer, error)
	newSink      func(ctx context.Context, cfg config.Config, started time.Time) (recordings.Sink, error)
	listen       func(network, addr string) (net.Listener, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultLiveDeps() liveDeps {
	return liveDeps{
		loadConfig: config.LoadFromEnv,
		newDialer: func(ctx context.Context, cfg config.Config) (live.Dialer, error) {
			return gemini.NewDialer(ctx, cfg.GeminiAPIKey, cfg.Model)
		},
		newSink: newRecordingSink,
		listen:  net.Listen,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newRecordingSink(ctx context.Context, cfg config.Config, started time.Time) (recordings.Sink, error) {
	if cfg.RecordingsS3Bucket != "" {
		run := "run-" + started.UTC().Format("20060102T150405Z")
		return recordings.NewS3Sink(ctx, cfg.RecordingsS3Bucket, cfg.RecordingsS3Prefix, run)
	}
	return recordings.NewLocalSink(cfg.RecordingsDir, started)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runServe(ctx context.Context, stderr io.Writer, deps liveDeps) error {
	if deps.loadConfig == nil || deps.newDialer == nil || deps.newSink == nil || deps.listen == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)

	reg, err := profiles.Load(cfg.ProfilesFile)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	dialer, err := deps.newDialer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create live dialer: %w", err)
	}
	started := time.Now()
	sink, err := deps.newSink(ctx, cfg, started)
	if err != nil {
		return fmt.Errorf("create recording sink: %w", err)
	}

	store := tokens.NewStore(tokens.WithTTL(cfg.TokenTTL))
	m := metrics.New("", store.Len)
	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Dialer:     dialer,
		Profiles:   reg,
		Tokens:     store,
		Recordings: sink,
		Metrics:    m,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	ln, err := deps.listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("starting live gateway",
		"addr", ln.Addr().String(),
		"model", cfg.Model,
		"profiles", reg.Names(),
		"token_ttl", store.TTL().String(),
	)

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		store.Run(sweepCtx, cfg.TokenSweepInterval, func(removed int) {
			m.RecordTokensSwept(removed)
			if removed > 0 {
				logger.Debug("swept expired recording tokens", "removed", removed)
			}
		})
		return nil
	})
	g.Go(func() error {
		defer stopSweep()
		select {
		case <-gctx.Done():
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		}
		return drain(logger, cfg, httpSrv, gw)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("live gateway stopped")
	return nil
}

// drain stops accepting connections, ends every live session with
// server_shutdown and waits for them up to the grace period.
func drain(logger *slog.Logger, cfg config.Config, httpSrv *http.Server, gw *gatewayserver.Server) error {
	gw.Lifecycle().BeginDrain(time.Now())
	canceled := gw.Sessions().CancelAll(session.ReasonServerShutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	// Sessions that registered while the listener was closing.
	canceled += gw.Sessions().CancelAll(session.ReasonServerShutdown)
	logger.Info("draining live sessions", "sessions", canceled)

	if !gw.Sessions().Wait(shutdownCtx) {
		remaining := gw.Sessions().List()
		ids := make([]string, 0, len(remaining))
		for _, s := range remaining {
			ids = append(ids, s.SessionID)
		}
		logger.Warn("live sessions still running after grace period", "sessions", len(remaining), "session_ids", ids)
	}
	return nil
}

func newRootCmd(ctx context.Context, stdout, stderr io.Writer, deps liveDeps) *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "vai-live",
		Short: "Live voice gateway between browser clients and a streaming speech model",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return dotenv.LoadFile(envFiles...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, stderr, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load; earlier files win, the process environment wins over all")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, stderr, deps)
		},
	})
	root.AddCommand(newProfilesCmd(stdout))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(stdout, "vai-live", version)
		},
	})
	return root
}

func newProfilesCmd(stdout io.Writer) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List persona profiles and the routes that select them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("VAI_LIVE_PROFILES_FILE")
			}
			reg, err := profiles.Load(file)
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				p, _ := reg.Get(name)
				routes := strings.Join(p.Routes, ",")
				if name == reg.Default() {
					routes = strings.TrimPrefix(routes+",*", ",")
				}
				fmt.Fprintf(stdout, "%s\troutes=%s\tvoice=%s\tproactive=%t\n", name, routes, p.Voice, p.ProactiveAudio)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "profiles override file (defaults to VAI_LIVE_PROFILES_FILE)")
	return cmd
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps liveDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	root := newRootCmd(ctx, stdout, stderr, deps)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "vai-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultLiveDeps()))
}
