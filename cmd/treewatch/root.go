package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/config"
	"github.com/hazyhaar/treewatch/idgen"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "treewatch",
	Short: "Incremental tree synchronization and profiling",
	Long: `treewatch streams the structure of an instrumented tree to remote
observers as a compact operation log, with per-node timing profiles,
detail snapshots and conditional breakpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		level, err := config.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to treewatch.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// agentConfig maps the loaded configuration onto an agent.Config.
func agentConfig() (agent.Config, error) {
	tokens, err := idgen.ByName(cfg.Agent.IDStrategy)
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		Logger:       logger,
		Tokens:       tokens,
		Profiling:    cfg.Agent.Profiling,
		MaxProfiles:  cfg.Agent.MaxProfiles,
		InspectDepth: cfg.Agent.InspectDepth,
	}, nil
}
