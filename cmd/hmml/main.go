package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSmoothl/HMML2/internal/auth"
	"github.com/DrSmoothl/HMML2/internal/config"
	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/logging"
	"github.com/DrSmoothl/HMML2/internal/maintenance"
	"github.com/DrSmoothl/HMML2/internal/pathcache"
	"github.com/DrSmoothl/HMML2/internal/web"
	"github.com/DrSmoothl/HMML2/internal/web/middleware"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	configPath string
	verbosity  int
)

// serverFlags maps root command flags to the config keys they override.
var serverFlags = map[string]string{
	"port":         "server.port",
	"host":         "server.host",
	"prefix":       "server.prefix",
	"allow-subnet": "server.allow_subnet",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hmml",
		Short: "HMML - MaiBot admin backend",
		Long:  `HMML serves the admin API of a MaiBot installation: database browsing, expression management and path configuration.`,
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Configuration file (toml, yaml or json)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.Flags().IntP("port", "p", 0, "HTTP server port (overrides server.port)")
	rootCmd.Flags().StringP("host", "b", "", "IP address to bind to (overrides server.host)")
	rootCmd.Flags().String("prefix", "", "Route prefix, e.g. /hmml (overrides server.prefix)")
	rootCmd.Flags().StringP("allow-subnet", "a", "", "CIDR subnet allowed to connect (overrides server.allow_subnet)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hmml %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})
	rootCmd.AddCommand(tokenCommand(), dbCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags lets explicitly set flags override the config file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range serverFlags {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig reads the config file and configures logging and timeouts.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	v := config.New()
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logger.Level
	switch {
	case verbosity == 1:
		level = "debug"
	case verbosity > 1:
		level = "trace"
	}

	loader := config.NewLoader(config.NewViperSettings(v))
	logging.Apply(level, loader, logging.FilePathForDir(cfg.Logger.Dir))
	config.SetGlobalTimeouts(config.TimeoutsFromLoader(loader))

	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	allowedNet, err := middleware.ParseSubnet(cfg.Server.AllowSubnet)
	if err != nil {
		return fmt.Errorf("invalid allow-subnet CIDR %q: %w", cfg.Server.AllowSubnet, err)
	}

	// Warn if binding to all interfaces without an allow list
	if (cfg.Server.Host == "" || cfg.Server.Host == "0.0.0.0" || cfg.Server.Host == "::") && allowedNet == nil {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider setting server.host or server.allow_subnet.")
	}

	log.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("prefix", cfg.Server.Prefix).
		Str("config", configPath).
		Msg("Starting HMML")

	cache := pathcache.New(cfg.Paths.CacheFile)
	if err := cache.Load(); err != nil {
		return fmt.Errorf("failed to load path cache: %w", err)
	}

	dbManager := database.NewManager(cache, managerConfig(cfg))
	if err := dbManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database manager: %w", err)
	}
	defer dbManager.CloseAll()

	// Changes written by other tools re-run primary discovery
	watcher, err := pathcache.NewWatcher(cache, dbManager, pathcache.DefaultDebounce)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create path cache watcher")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start path cache watcher")
		}
		defer watcher.Stop()
	}

	audit := auth.NewAuditor(cfg.Security.AuditFile)
	tokens := auth.NewTokenManager(cfg.Security.TokenFile, auth.DefaultParams, audit)
	plain, err := tokens.Initialize()
	if err != nil {
		return fmt.Errorf("failed to initialize access token: %w", err)
	}
	if plain != "" {
		printToken(plain, cfg.Security.TokenFile)
	}

	scheduler := maintenance.New(dbManager, cfg.Database.MaintenanceSchedule)
	if err := scheduler.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start database maintenance scheduler")
	}
	defer scheduler.Stop()

	server := web.NewServer(web.Options{
		Addr:        cfg.Server.Addr(),
		Prefix:      cfg.Server.Prefix,
		AllowedNet:  allowedNet,
		CORSOrigins: cfg.Security.CORSOrigins,
	}, dbManager, cache, tokens, audit)
	server.SetMaintenanceScheduler(scheduler)
	server.SetVersionInfo(version, commit, date)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("HMML stopped")
	return nil
}

// managerConfig takes the lock wait from the global timeouts.
func managerConfig(cfg *config.Config) database.ManagerConfig {
	return database.ManagerConfig{
		TimeoutSeconds:      int(config.GetTimeouts().DatabaseLock / time.Second),
		AllowCrossThreadUse: cfg.Database.AllowCrossThreadUse,
	}
}

// printToken shows a newly generated token once. Only its hash is stored.
func printToken(token, path string) {
	fmt.Println("==================================================================")
	fmt.Println(" New access token (shown once, store it now):")
	fmt.Println()
	fmt.Println(" " + token)
	fmt.Println()
	fmt.Printf(" Hash stored in %s\n", path)
	fmt.Println("==================================================================")
}
