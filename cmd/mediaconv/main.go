package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/mediaconv/internal/config"
	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/logger"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule"
	"github.com/mantonx/mediaconv/internal/plugins"
	"github.com/mantonx/mediaconv/internal/server"
)

const shutdownTimeout = 20 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "token" {
		os.Exit(runToken(args[1:]))
	}
	os.Exit(runServe(args))
}

// commonFlags registers the flags every subcommand understands
func commonFlags(flags *flag.FlagSet) (configPath, envFile *string) {
	configPath = flags.String("config", os.Getenv("MEDIACONV_CONFIG_PATH"), "path to mediaconv.yaml")
	envFile = flags.String("env", ".env", "dotenv file loaded before configuration")
	return configPath, envFile
}

// loadConfig reads the dotenv file, then the configuration. An unreadable
// configuration falls back to defaults.
func loadConfig(configPath, envFile string) string {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load %s: %v", envFile, err)
	}

	if configPath == "" {
		if _, err := os.Stat("./mediaconv.yaml"); err == nil {
			configPath = "./mediaconv.yaml"
		}
	}

	if err := config.Load(configPath); err != nil {
		logger.Warn("Failed to load configuration from %s, using defaults: %v", configPath, err)
	}
	return configPath
}

func runServe(args []string) int {
	flags := flag.NewFlagSet("mediaconv", flag.ExitOnError)
	configFlag, envFlag := commonFlags(flags)
	_ = flags.Parse(args)

	configPath := loadConfig(*configFlag, *envFlag)
	cfg := config.Get()
	log := logger.Setup(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := serve(configPath, cfg, log); err != nil {
		log.Error("mediaconv stopped with an error", "error", err)
		return 1
	}
	return 0
}

func serve(configPath string, cfg *config.Config, log hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, &events.SystemEvent{})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close(db)

	var storage events.EventStorage
	if cfg.Events.Persist {
		storage = events.NewDatabaseEventStorage(db)
	}
	busConfig := events.DefaultEventBusConfig()
	busConfig.BufferSize = cfg.Events.BufferSize
	busConfig.MaxEventAge = cfg.Events.MaxAge
	busConfig.EnablePersistence = cfg.Events.Persist

	bus := events.NewEventBus(busConfig, log.Named("events"), storage)
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	pluginManager := plugins.NewManager(cfg.HWAccel.PluginDir, log)
	pluginManager.Start()
	defer pluginManager.Stop()

	srv, err := server.New(server.ServerOptions{ServerConfig: cfg.Server, DB: db}, bus, log)
	if err != nil {
		return err
	}

	module, err := conversionmodule.NewModule(conversionmodule.Options{
		Config:   config.GetConfigManager(),
		DB:       db,
		EventBus: bus,
		Plugins:  pluginManager,
		Stream:   srv.Hub().ServeWS,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create conversion module: %w", err)
	}
	if err := module.Start(ctx); err != nil {
		return err
	}
	srv.Register(module)

	_ = bus.PublishAsync(events.NewSystemEvent(events.EventSystemStarted, "mediaconv started",
		fmt.Sprintf("Listening on %s:%d", cfg.Server.Host, cfg.Server.Port)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx); err != nil {
				log.Warn("Config hot reload disabled", "error", err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := module.Shutdown(shutdownCtx); err != nil {
		log.Warn("Conversion jobs did not stop in time", "error", err)
	}
	_ = bus.PublishAsync(events.NewSystemEvent(events.EventSystemStopped, "mediaconv stopped", ""))
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus shutdown error", "error", err)
	}

	log.Info("Shutdown complete")
	return runErr
}

// runToken prints a bearer token signed with server.auth_secret
func runToken(args []string) int {
	flags := flag.NewFlagSet("mediaconv token", flag.ExitOnError)
	configFlag, envFlag := commonFlags(flags)
	subject := flags.String("subject", "admin", "token subject")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = flags.Parse(args)

	loadConfig(*configFlag, *envFlag)

	auth := server.NewAuthenticator(config.Get().Server.AuthSecret)
	if !auth.Enabled() {
		fmt.Fprintln(os.Stderr, "server.auth_secret is not set; the API does not require tokens")
		return 1
	}

	token, err := auth.IssueToken(*subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
