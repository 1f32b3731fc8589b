package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	epoll "github.com/gotcp/httpd"
	"github.com/gotcp/httpd/httpconn"
	"github.com/gotcp/httpd/logpipe"
	"github.com/gotcp/httpd/userstore"
)

const (
	DEFAULT_STORE          = "mem://"
	DEFAULT_LOG_QUEUE      = 1024
	DEFAULT_SHUTDOWN_GRACE = 5 * time.Second
)

// options holds everything outside epoll.Config that the command needs.
type options struct {
	Store         string
	StoreSessions int
	WatchUsers    bool
	LogLevel      string
	LogQueue      int
	LogDisabled   bool
	LogFile       string
	LogSplitLines int
	MetricsListen string
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("HTTPD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "httpd")
	cmd := newRootCommand(baseLogger)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			baseLogger.Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "httpd",
		Short:         "httpd serves static files and a small login/register form over an epoll event loop",
		SilenceErrors: true,
		Example: `
  # Serve ./www on the default port with the in-memory user table
  httpd --docroot ./www

  # Edge-triggered client sockets, proactor I/O, users kept in a YAML file
  httpd --docroot /srv/www --conn-et --actor proactor --store file:///var/lib/httpd/users.yaml

  # Users in MinIO, Prometheus metrics on :9100
  HTTPD_STORE=s3://localhost:9000/httpd/users?insecure=1 httpd --docroot /srv/www --metrics-listen :9100
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := baseLogger
			logger.Info("welcome to httpd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)
			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				logger.Info("loaded config file", "path", configFile)
			}
			cfg, opts, err := bindConfig()
			if err != nil {
				return err
			}
			if level, ok := pslog.ParseLevel(opts.LogLevel); ok {
				logger = logger.LogLevel(level)
			}
			return run(cmd.Context(), cfg, opts, logger)
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")
	addServerFlags(cmd.Flags())

	viper.SetEnvPrefix("HTTPD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindFlag := func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	}
	cmd.PersistentFlags().VisitAll(bindFlag)
	cmd.Flags().VisitAll(bindFlag)
	return cmd
}

func addServerFlags(flags *pflag.FlagSet) {
	def := epoll.DefaultConfig()
	flags.String("host", def.Host, "listen host")
	flags.IntP("port", "p", def.Port, "listen port (0 picks a free port)")
	flags.StringP("docroot", "d", "", "document root served for GET requests")
	flags.String("index-file", def.IndexFile, "file served for /")
	flags.String("read-buffer", humanize.IBytes(uint64(def.ReadBuffer)), "per-connection read buffer (e.g. 2KiB)")
	flags.String("write-buffer", humanize.IBytes(uint64(def.WriteBuffer)), "per-connection response header buffer (e.g. 1KiB)")
	flags.Bool("listen-et", def.ListenET, "edge-triggered listening socket")
	flags.Bool("conn-et", def.ConnET, "edge-triggered client sockets")
	flags.IntP("trig-mode", "m", -1, "trigger mode shorthand: 0 LT+LT, 1 LT+ET, 2 ET+LT, 3 ET+ET (listen+conn); overrides --listen-et/--conn-et")
	flags.Duration("idle-timeout", def.IdleTimeout, "idle time before a connection is closed")
	flags.Duration("renewal", def.Renewal, "expiry extension applied on connection activity")
	flags.Duration("timeslot", def.Timeslot, "alarm period while no connection is open")
	flags.IntP("threads", "t", def.Threads, "worker goroutines")
	flags.Int("queue-length", def.QueueLength, "worker queue length")
	flags.Int("max-connections", def.MaxConnections, "open connection limit; further clients get a busy message")
	flags.Int("epoll-events", def.EpollEvents, "events fetched per epoll_wait")
	flags.Int("heap-capacity", def.HeapCapacity, "initial timer heap capacity")
	flags.BoolP("linger", "o", def.Linger, "enable SO_LINGER on the listening socket")
	flags.Bool("reuse-addr", def.ReuseAddr, "enable SO_REUSEADDR on the listening socket")
	flags.StringP("actor", "a", def.Actor.String(), "actor model (reactor, proactor)")
	flags.Bool("wake-alarm", def.WakeAlarm, "drive the idle sweep with a Go timer instead of SIGALRM")
	flags.Duration("store-timeout", def.StoreTimeout, "timeout for persisting a registration")
	flags.String("store", DEFAULT_STORE, "user store URL (mem://, file:///path/users.yaml, s3://host[:port]/bucket[/prefix])")
	flags.IntP("store-sessions", "s", userstore.DEFAULT_POOL_SIZE, "concurrent user store sessions")
	flags.Bool("watch-users", false, "reload users when the file store changes on disk")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.IntP("log-queue", "l", DEFAULT_LOG_QUEUE, "asynchronous log queue size; 0 logs synchronously")
	flags.Bool("log-disabled", false, "discard all log records")
	flags.String("log-file", "", "write logs to daily rotated files at this path instead of stderr")
	flags.Int("log-split-lines", logpipe.DEFAULT_SPLIT_LINES, "lines per log file before it is split")
	flags.String("metrics-listen", "", "metrics listen address (Prometheus scrape endpoint; empty disables)")
}

func bindConfig() (epoll.Config, options, error) {
	cfg := epoll.DefaultConfig()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DocRoot = viper.GetString("docroot")
	cfg.IndexFile = viper.GetString("index-file")
	for _, b := range []struct {
		name string
		dst  *int
	}{
		{"read-buffer", &cfg.ReadBuffer},
		{"write-buffer", &cfg.WriteBuffer},
	} {
		size, err := humanize.ParseBytes(viper.GetString(b.name))
		if err != nil {
			return cfg, options{}, fmt.Errorf("parse %s: %w", b.name, err)
		}
		*b.dst = int(size)
	}
	cfg.ListenET = viper.GetBool("listen-et")
	cfg.ConnET = viper.GetBool("conn-et")
	if mode := viper.GetInt("trig-mode"); mode >= 0 {
		if mode > 3 {
			return cfg, options{}, fmt.Errorf("%w: trig-mode %d", epoll.ErrInvalidConfig, mode)
		}
		cfg.ListenET = mode&2 != 0
		cfg.ConnET = mode&1 != 0
	}
	cfg.IdleTimeout = viper.GetDuration("idle-timeout")
	cfg.Renewal = viper.GetDuration("renewal")
	cfg.Timeslot = viper.GetDuration("timeslot")
	cfg.Threads = viper.GetInt("threads")
	cfg.QueueLength = viper.GetInt("queue-length")
	cfg.MaxConnections = viper.GetInt("max-connections")
	cfg.EpollEvents = viper.GetInt("epoll-events")
	cfg.HeapCapacity = viper.GetInt("heap-capacity")
	cfg.Linger = viper.GetBool("linger")
	cfg.ReuseAddr = viper.GetBool("reuse-addr")
	actor, err := epoll.ParseActorModel(viper.GetString("actor"))
	if err != nil {
		return cfg, options{}, err
	}
	cfg.Actor = actor
	cfg.WakeAlarm = viper.GetBool("wake-alarm")
	cfg.StoreTimeout = viper.GetDuration("store-timeout")

	opts := options{
		Store:         viper.GetString("store"),
		StoreSessions: viper.GetInt("store-sessions"),
		WatchUsers:    viper.GetBool("watch-users"),
		LogLevel:      strings.TrimSpace(viper.GetString("log-level")),
		LogQueue:      viper.GetInt("log-queue"),
		LogDisabled:   viper.GetBool("log-disabled"),
		LogFile:       viper.GetString("log-file"),
		LogSplitLines: viper.GetInt("log-split-lines"),
		MetricsListen: strings.TrimSpace(viper.GetString("metrics-listen")),
	}
	if opts.Store == "" {
		opts.Store = DEFAULT_STORE
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	return cfg, opts, nil
}

// newPipeline builds the asynchronous log pipeline, writing to rotated files
// when a log file is configured.
func newPipeline(ctx context.Context, opts options, logger pslog.Logger) (*logpipe.Pipeline, func(), error) {
	var closeFile = func() {}
	if opts.LogFile != "" {
		fw, err := logpipe.NewFileWriter(opts.LogFile, opts.LogSplitLines)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		level, ok := pslog.ParseLevel(opts.LogLevel)
		if !ok {
			level = pslog.InfoLevel
		}
		logger = pslog.NewWithOptions(ctx, fw, pslog.Options{
			Mode:     pslog.ModeStructured,
			NoColor:  true,
			MinLevel: level,
		}).With("app", "httpd")
		closeFile = func() { _ = fw.Close() }
	}
	pipeline, err := logpipe.New(logger, logpipe.Options{QueueSize: opts.LogQueue, Disabled: opts.LogDisabled})
	if err != nil {
		closeFile()
		return nil, nil, err
	}
	return pipeline, func() {
		pipeline.Close()
		closeFile()
	}, nil
}

// openUsers opens the user store and loads its users into the table served
// to connections.
func openUsers(ctx context.Context, opts options, log *logpipe.Pipeline) (*httpconn.Users, *userstore.Pool, error) {
	backend, err := userstore.Open(ctx, opts.Store)
	if err != nil {
		return nil, nil, err
	}
	pool := userstore.NewPool(backend, opts.StoreSessions)
	initial, err := pool.LoadAll(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	users := httpconn.NewUsers(pool)
	users.Load(initial)
	log.Info("users loaded", "store", opts.Store, "count", users.Len())

	if file, ok := backend.(*userstore.File); ok && opts.WatchUsers {
		err := file.Watch(ctx, func(m map[string]string) {
			users.Merge(m)
			log.Info("users reloaded", "path", file.Path(), "count", users.Len())
		}, func(err error) {
			log.Warn("users watch failed", "path", file.Path(), "error", err)
		})
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
	}
	return users, pool, nil
}

func run(ctx context.Context, cfg epoll.Config, opts options, logger pslog.Logger) error {
	pipeline, closeLog, err := newPipeline(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	users, pool, err := openUsers(ctx, opts, pipeline.Subsystem("userstore"))
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ep, err := epoll.New(cfg)
	if err != nil {
		return err
	}
	defer ep.Close()
	ep.SetUsers(users)
	ep.SetLogger(pipeline.Subsystem("server"))
	ep.SetMetrics(epoll.NewMetrics(registry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ep.Start(gctx)
	})
	if opts.MetricsListen != "" {
		srv := &http.Server{
			Addr:              opts.MetricsListen,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			pipeline.Info("metrics enabled", "listen", opts.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), DEFAULT_SHUTDOWN_GRACE)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
