package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.4.0"

func printVersion() {
	fmt.Printf("stillpoint v%s\n", version)
	fmt.Println("Session and ambience timer daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  stillpoint [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Tracks meditation and breathing sessions, drives ambient audio through")
	fmt.Println("  an audio sidecar and keeps a weekly minutes counter across restarts.")
	fmt.Println("  Controlled over a unix socket, an HTTP API and optional media keys.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to a YAML config file")
	fmt.Println()
	fmt.Println("  -env-file string")
	fmt.Println("        Path to a .env file with STILLPOINT_* variables (default \".env\")")
	fmt.Println()
	fmt.Println("  -tick-hz int")
	fmt.Printf("        Tick frequency in Hz (default %d)\n", defaultTickHz)
	fmt.Println()
	fmt.Println("  -max-tick-delta-sec int")
	fmt.Printf("        Largest time step credited by one tick (default %d)\n", int(defaultMaxTickDelta.Seconds()))
	fmt.Println()
	fmt.Println("  -timezone string")
	fmt.Println("        Timezone for week keys: Local, UTC or an IANA name (default \"Local\")")
	fmt.Println()
	fmt.Println("  -audio-ws-url string")
	fmt.Println("        Audio sidecar websocket URL; empty disables audio output")
	fmt.Println()
	fmt.Println("  -store string")
	fmt.Println("        Persisted store backend: file|redis|memory (default \"file\")")
	fmt.Println()
	fmt.Println("  -store-dir string")
	fmt.Println("        Directory for the file store (default \"~/.local/state/stillpoint\")")
	fmt.Println()
	fmt.Println("  -redis-addr string")
	fmt.Println("        Redis address for the redis store (default \"127.0.0.1:6379\")")
	fmt.Println()
	fmt.Println("  -session-db string")
	fmt.Println("        SQLite session log path; empty disables it")
	fmt.Println()
	fmt.Println("  -ambience-file, -exercises-file string")
	fmt.Println("        YAML overrides for the built-in ambience catalog and exercises")
	fmt.Println()
	fmt.Println("  -watch-catalog")
	fmt.Println("        Reload the override files when they change")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/stillpoint.sock\")")
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Println("        HTTP API listen address; empty disables it (default \"127.0.0.1:3002\")")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device for media keys (e.g. /dev/input/event3)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Also write logs to this file, rotated by size")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  stillpoint -config ~/.config/stillpoint/config.yaml")
	fmt.Println("  stillpoint -audio-ws-url ws://127.0.0.1:4100 -input-device /dev/input/event3")
	fmt.Println("  stillpoint -store redis -redis-addr 10.0.0.5:6379")
	fmt.Println()
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		envFile    = flag.String("env-file", ".env", "Path to .env file")

		tickHz          = flag.Int("tick-hz", defaultTickHz, "Tick frequency in Hz")
		maxTickDeltaSec = flag.Int("max-tick-delta-sec", int(defaultMaxTickDelta.Seconds()), "Largest time step credited by one tick")
		timezone        = flag.String("timezone", "Local", "Timezone for week keys")
		audioWsURL      = flag.String("audio-ws-url", "", "Audio sidecar websocket URL")
		storeBackend    = flag.String("store", "file", "Persisted store backend: file|redis|memory")
		storeDir        = flag.String("store-dir", "", "Directory for the file store")
		redisAddr       = flag.String("redis-addr", "", "Redis address")
		sessionDB       = flag.String("session-db", "", "SQLite session log path")
		ambienceFile    = flag.String("ambience-file", "", "Ambience catalog override file")
		exercisesFile   = flag.String("exercises-file", "", "Exercise library override file")
		watchCatalog    = flag.Bool("watch-catalog", false, "Reload override files on change")
		ipcSocketPath   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		httpListen      = flag.String("http-listen", "", "HTTP API listen address")
		inputDevice     = flag.String("input-device", "", "Linux input event device for media keys")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFile         = flag.String("log-file", "", "Rotated log file")

		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the file and environment.
	var over FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tick-hz":
			over.TickHz = tickHz
		case "max-tick-delta-sec":
			over.MaxTickDeltaSec = maxTickDeltaSec
		case "timezone":
			over.Timezone = timezone
		case "audio-ws-url":
			over.AudioWsURL = audioWsURL
		case "store":
			over.StoreBackend = storeBackend
		case "store-dir":
			over.StoreDir = storeDir
		case "redis-addr":
			over.RedisAddr = redisAddr
		case "session-db":
			over.SessionDB = sessionDB
		case "ambience-file":
			over.AmbienceFile = ambienceFile
		case "exercises-file":
			over.ExercisesFile = exercisesFile
		case "watch-catalog":
			over.WatchCatalog = watchCatalog
		case "ipc-socket":
			over.IPCSocketPath = ipcSocketPath
		case "http-listen":
			over.HTTPListen = httpListen
		case "input-device":
			over.InputDevice = inputDevice
		case "log-level":
			over.LogLevel = logLevelStr
		case "log-file":
			over.LogFile = logFile
		}
	})

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := ApplyEnv(&cfg, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	over.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("stillpoint exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a fatal error.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	var recorder SessionRecorder = logRecorder{logger: logger}
	var history SessionHistory
	if cfg.SessionLog.Path != "" {
		sessions, err := OpenSQLiteSessionLog(cfg.SessionLog.Path)
		if err != nil {
			return err
		}
		defer sessions.Close()
		recorder = sessions
		history = sessions
	}

	var audio AudioOutput = nullAudio{logger: logger}
	if cfg.Audio.WsURL != "" {
		client, err := NewAudioClient(cfg.Audio, logger)
		if err != nil {
			return err
		}
		audio = client
	} else {
		logger.Warn("no audio sidecar configured; audio output disabled")
	}
	defer audio.Close()

	set, err := LoadCatalogSet(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	var catalogs catalogHolder
	catalogs.Store(set)

	events := make(chan Event, 64)
	broadcasts := make(chan StateBroadcast, 256)

	clock := systemClock{}
	effects := NewEffects(audio, store, recorder, clock, logger)
	engine := NewEngine(NewEngineState(set, cfg.Playback), cfg.ToEngineConfig(), clock, effects, broadcasts, logger)
	engine.Restore(ctx, store)
	defer engine.Flush()

	logger.Info("starting stillpoint",
		"version", version,
		"store", cfg.Store.Backend,
		"ambience", set.Ambience.Len(),
		"exercises", len(set.Exercises.Definitions()),
		"tick_hz", cfg.Engine.TickHz)

	g, gctx := errgroup.WithContext(ctx)

	// A slow sidecar must never hold up the daemon loop.
	effects.StartAudioWorker(gctx, events, defaultAudioQueue)

	g.Go(func() error {
		runDaemon(gctx, events, engine, cfg.Engine.TickHz, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if cfg.HTTP.Listen != "" {
		ws := NewStateServer(logger, events, HubConfig{})
		api := NewAPIServer(events, &catalogs, history, logger)

		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, api.Router(ws), logger)
		})
	} else {
		// Nobody listens; keep the engine from filling the queue.
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-broadcasts:
				}
			}
		})
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			err := runMediaKeys(gctx, cfg.Input.Devices, events, logger)
			if err != nil {
				// Media keys are optional; losing them does not stop the daemon.
				logger.Error("media keys disabled", "error", err, "tip", "run as root or add user to 'input' group")
			}
			return nil
		})
	}

	if cfg.Catalog.Watch {
		g.Go(func() error {
			return watchCatalog(gctx, cfg.Catalog, &catalogs, events, logger)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return OpenFileStore(cfg.Dir)
	}
}
