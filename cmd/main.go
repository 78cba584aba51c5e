package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blogdash/config"
	"blogdash/logger"
	"blogdash/service"
)

// rootEnv holds what every command shares
type rootEnv struct {
	configPath string
	cfg        *config.Config
}

func main() {
	env := &rootEnv{}
	root := &cobra.Command{
		Use:           "blogdash",
		Short:         "Blog contributor and draft pipeline dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&env.configPath, "config", ".env", "Optional env file read before the environment")

	root.AddCommand(
		env.serveCmd(),
		env.syncCmd(),
		env.migrateCmd(),
		env.rosterAtCmd(),
	)

	if err := root.Execute(); err != nil {
		if logger.Logger != nil {
			logger.Error("Command failed", zap.Error(err))
			logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func (e *rootEnv) load() error {
	e.cfg = config.NewConfig()
	if err := e.cfg.Load(e.configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(e.cfg.LogLevel, e.cfg.Development()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// withService runs fn with a service that is closed afterwards
func (e *rootEnv) withService(fn func(*service.Service) error) error {
	svc, err := service.NewService(e.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Error during service shutdown", zap.Error(err))
		}
	}()
	return fn(svc)
}
