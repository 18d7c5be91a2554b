package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/config"
)

func newAssessCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess [City:Country ...]",
		Short: "Assess cities locally and print the analyses as JSON",
		Long:  longAssess,
		RunE: func(cmd *cobra.Command, args []string) error {
			cities := c.cfg.Cities
			if len(args) > 0 {
				parsed, err := config.ParseCities(strings.Join(args, ","))
				if err != nil {
					return err
				}
				cities = parsed
			}
			if len(cities) == 0 {
				return errors.New("no cities configured: pass City:Country arguments or set ATLAS_CITIES")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := buildRuntime(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			orchestrator := rt.NewOrchestrator(rt.NewAgent(agent.WithBudget(c.cfg.MonthlyBudget)))
			log.Info().Int("cities", len(cities)).Float64("budget", c.cfg.MonthlyBudget).Msg("assessment started")
			analyses := orchestrator.Run(ctx, cities)
			sortByRemoteWorkScore(analyses)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(analyses); err != nil {
				return fmt.Errorf("writing analyses: %w", err)
			}
			if len(analyses) < len(cities) {
				log.Warn().Int("missing", len(cities)-len(analyses)).Msg("some cities did not finish")
			}
			return nil
		},
	}

	cmd.Flags().Float64("budget", 0, "monthly budget in USD (MONTHLY_BUDGET)")
	cmd.Flags().String("cities-file", "", "YAML file listing cities and categories (CITIES_FILE)")
	_ = c.v.BindPFlag(config.KeyMonthlyBudget, cmd.Flags().Lookup("budget"))
	_ = c.v.BindPFlag(config.KeyCitiesFile, cmd.Flags().Lookup("cities-file"))
	return cmd
}

// sortByRemoteWorkScore orders analyses best first. Unscored analyses keep
// their relative order at the end.
func sortByRemoteWorkScore(analyses []agent.CityAnalysis) {
	slices.SortStableFunc(analyses, func(a, b agent.CityAnalysis) int {
		switch {
		case a.RemoteWorkScore == nil && b.RemoteWorkScore == nil:
			return 0
		case a.RemoteWorkScore == nil:
			return 1
		case b.RemoteWorkScore == nil:
			return -1
		case *a.RemoteWorkScore > *b.RemoteWorkScore:
			return -1
		case *a.RemoteWorkScore < *b.RemoteWorkScore:
			return 1
		}
		return 0
	})
}

var longAssess = `
Run the evidence-gathering loop for each city and print one analysis per
finished city, best remote-work score first.

Examples:
  atlas assess Lisbon:Portugal "Mexico City:Mexico" --budget 2500
  ATLAS_CITIES="Berlin:Germany" atlas assess
`
