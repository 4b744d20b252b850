package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"herald/internal/delivery/server/bootstrap"
	"herald/internal/shared/config"
	"herald/internal/shared/logging"
)

const (
	keyConfigPath = "config_path"
	keyListen     = "listen"
	keyStorage    = "storage"
	keyDatabase   = "database_url"
	keyLogLevel   = "log_level"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(viper.New())
}

func buildRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "herald",
		Short:         "Proactive reminder service",
		Long:          "herald stores reminders, evaluates their triggers on a schedule and pushes notifications to connected clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the YAML config file (env HERALD_CONFIG_PATH)")
	flags.String("listen", "", "HTTP listen address, e.g. :8080")
	flags.String("storage", "", "Storage driver: memory, sqlite or postgres")
	flags.String("database-url", "", "Postgres connection string")
	flags.String("log-level", "", "Log level: debug, info, warn or error")

	mustBind(v.BindPFlag(keyConfigPath, flags.Lookup("config")))
	mustBind(v.BindEnv(keyConfigPath, "HERALD_CONFIG_PATH"))
	mustBind(v.BindPFlag(keyListen, flags.Lookup("listen")))
	mustBind(v.BindPFlag(keyStorage, flags.Lookup("storage")))
	mustBind(v.BindPFlag(keyDatabase, flags.Lookup("database-url")))
	mustBind(v.BindPFlag(keyLogLevel, flags.Lookup("log-level")))

	root.AddCommand(newServeCommand(v))
	root.AddCommand(newMigrateCommand(v))
	root.AddCommand(newVersionCommand())
	return root
}

func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}

// loadConfig resolves the configuration with flag values taking precedence
// over the file and the HERALD_* environment.
func loadConfig(v *viper.Viper, extra ...config.Option) (config.Config, config.Metadata, error) {
	opts := []config.Option{
		config.WithConfigPath(v.GetString(keyConfigPath)),
		config.WithOverrides(config.Overrides{
			ListenAddr:    v.GetString(keyListen),
			StorageDriver: v.GetString(keyStorage),
			DatabaseURL:   v.GetString(keyDatabase),
			LogLevel:      v.GetString(keyLogLevel),
		}),
	}
	cfg, meta, err := config.Load(append(opts, extra...)...)
	if err != nil {
		return config.Config{}, config.Metadata{}, err
	}
	logging.Configure(logging.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, meta, nil
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket push channel and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, meta, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger("Main")
			configFile := "none"
			if meta.Path() != "" {
				configFile = meta.Path() + " via " + meta.PathSource()
			}
			logger.Info("Starting herald %s (config=%s, storage=%s)", version, configFile, cfg.Storage.Driver)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, bootstrap.WithVersion(version))
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		},
	}
}

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the reminder tables in the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := bootstrap.Migrate(cmd.Context(), cfg.Storage, logging.NewComponentLogger("Migrate")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the herald version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "herald %s\n", version)
		},
	}
}
