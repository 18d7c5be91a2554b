// Command atlas runs cost-of-living assessments locally and manages the
// perception cache.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/assess"
	"github.com/Keyring-Network/keyring-atlas/internal/cache"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
	"github.com/Keyring-Network/keyring-atlas/internal/logging"
)

var version = "dev"

// assessRuntime is the part of assess.Runtime the commands use.
type assessRuntime interface {
	NewAgent(opts ...agent.Option) *agent.Agent
	NewOrchestrator(runner agent.Runner) *agent.Orchestrator
	Close() error
}

type cacheStore interface {
	Clear(ctx context.Context) (int64, error)
	Close() error
}

var (
	newViper     = config.NewViper
	loadConfig   = config.LoadViper
	setupLogging = logging.Setup
	buildRuntime = func(ctx context.Context, cfg config.Config) (assessRuntime, error) {
		return assess.Build(ctx, cfg)
	}
	openCache = func(ctx context.Context, path string) (cacheStore, error) {
		return cache.NewSQLite(ctx, path)
	}
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the configuration resolved before any subcommand runs.
type cli struct {
	v   *viper.Viper
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:          "atlas",
		Short:        "Assess cost of living and remote-work fit for a set of cities",
		Long:         longRoot,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			setupLogging(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file (ATLAS_CONFIG)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.String("log-format", "", "console or json (LOG_FORMAT)")
	for key, name := range map[string]string{
		config.KeyConfigFile: "config",
		config.KeyLogLevel:   "log-level",
		config.KeyLogFormat:  "log-format",
	} {
		if err := c.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatal().Err(err).Str("flag", name).Msg("binding flag")
		}
	}

	root.AddCommand(
		newAssessCmd(c),
		newStrategiesCmd(),
		newCacheCmd(c),
		newSecretsCmd(c),
	)
	return root
}

var longRoot = `
atlas gathers cost-of-living evidence per city with an adaptive
perceive -> reason -> reflect loop and reports monthly costs, confidence and
a remote-work score.

Configuration comes from the environment (SEARCH_API_KEY, LLM_API_KEY,
ATLAS_CITIES, ...) and an optional YAML file passed with --config.
`
