package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"translate-hub/pkg/config"
	"translate-hub/pkg/version"
)

var logger = logrus.New()

type rootOptions struct {
	configFile string
	envFile    string
	maxCalls   int
}

var opts rootOptions

var rootCmd = &cobra.Command{
	Use:   "translate-hub",
	Short: "Real-time speech translation over the telephone",
	Long: `translate-hub answers SIP calls, recognizes what the caller says,
translates it and speaks the translation back, driving every stage from a
single event loop.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHub,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file (default $HUB_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", ".env file loaded before the environment")
	rootCmd.Flags().IntVarP(&opts.maxCalls, "max-calls", "n", -1, "stop after serving this many calls (0 = unbounded, overrides HUB_MAX_CALLS)")

	rootCmd.AddCommand(statsCmd)
}

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("translate-hub failed")
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies its logging settings
func loadConfig(hubOnly bool) (*config.Config, error) {
	cfg, err := config.Load(logger, config.LoadOptions{
		EnvFile:    opts.envFile,
		ConfigFile: opts.configFile,
		HubOnly:    hubOnly,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyLogging(logger); err != nil {
		return nil, err
	}
	return cfg, nil
}
