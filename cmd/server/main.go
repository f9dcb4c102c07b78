package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HyphaGroup/cesvault/internal/auditlog"
	"github.com/HyphaGroup/cesvault/internal/auth"
	"github.com/HyphaGroup/cesvault/internal/config"
	"github.com/HyphaGroup/cesvault/internal/httpapi"
	"github.com/HyphaGroup/cesvault/internal/logger"
	"github.com/HyphaGroup/cesvault/internal/sandbox"
	"github.com/HyphaGroup/cesvault/internal/session"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configDirFlag := flag.String("config-dir", "", "Directory holding cesvault.jsonc (default: ./config, then ~/.cesvault/config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cesvault %s\n", Version)
		os.Exit(0)
	}

	cfg := loadConfig(*configDirFlag)

	if err := os.MkdirAll(cfg.Session.DataDir, 0o755); err != nil {
		fatal("create data directory: %v", err)
	}
	logDir := filepath.Join(cfg.Session.DataDir, "logs")
	if err := logger.Init(logDir); err != nil {
		fatal("initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()
	if err := logger.InitSlog(logDir, true); err != nil {
		fatal("initialize structured logger: %v", err)
	}
	defer func() { _ = logger.CloseSlog() }()

	logger.Println("Code Execution Service")
	logger.Printf("version %s", Version)

	launcher, err := newLauncher(cfg.Sandbox)
	if err != nil {
		logger.Fatalf("initialize sandbox launcher: %v", err)
	}
	logger.Printf("sandbox kind: %s", launcher.Kind())

	auditStore, err := auditlog.Open(cfg.Session.DataDir)
	if err != nil {
		logger.Fatalf("open audit log: %v", err)
	}
	defer func() { _ = auditStore.Close() }()
	logger.Printf("audit database: %s/audit.db", cfg.Session.DataDir)

	mgr, err := session.NewManager(session.ManagerConfig{
		BaseDir:            cfg.Session.BaseDir,
		Launcher:           launcher,
		InterpreterCommand: cfg.Sandbox.InterpreterCommand,
		StartupTimeout:     time.Duration(cfg.Session.StartupTimeoutSeconds) * time.Second,
		IdleTimeout:        time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute,
		SweepCron:          cfg.Session.SweepCron,
		Audit:              auditStore,
	})
	if err != nil {
		logger.Fatalf("initialize session manager: %v", err)
	}

	server := httpapi.New(mgr, httpapi.Config{
		Auth: auth.Config{
			APIKey:        cfg.Auth.APIKey,
			AllowLoopback: cfg.Auth.AllowLoopback,
		},
		Version: Version,
	})

	logger.Printf("listening on %s", cfg.Server.Address)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(cfg.Server.Address)
	}()

	select {
	case err := <-serverErr:
		logger.Fatalf("server error: %v", err)
	case sig := <-shutdownChan:
		logger.Printf("received signal %v, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Println("closing HTTP listener")
		if err := server.Shutdown(ctx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}

		logger.Println("stopping live sessions")
		if err := mgr.Shutdown(ctx); err != nil {
			logger.Printf("session manager shutdown: %v", err)
		}

		logger.Println("shutdown complete")
	}
}

func loadConfig(configDir string) *config.Config {
	path, err := config.FindConfigPath(configDir)
	if err != nil {
		logger.Printf("no config file found, using defaults (%v)", err)
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config %s: %v", path, err)
	}
	return cfg
}

func newLauncher(cfg config.SandboxConfig) (sandbox.Launcher, error) {
	switch cfg.Kind {
	case "docker":
		return sandbox.NewDockerLauncher(cfg.Image)
	default:
		return sandbox.NewProcessLauncher(time.Duration(cfg.KillGraceSeconds) * time.Second), nil
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
