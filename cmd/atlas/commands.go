package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/secrets"
)

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "Print the evidence-gathering strategy catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(agent.Catalog())
		},
	}
}

func newCacheCmd(c *cli) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the perception cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached perception bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(c.cfg.CachePath)
			if path == "" {
				return errors.New("CACHE_PATH is not set")
			}
			store, err := openCache(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("opening cache %s: %w", path, err)
			}
			defer func() { _ = store.Close() }()

			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached bundles from %s\n", removed, path)
			return nil
		},
	})
	return cacheCmd
}

func newSecretsCmd(c *cli) *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Seal API keys for use in configuration",
	}
	secretsCmd.AddCommand(&cobra.Command{
		Use:   "seal VALUE",
		Short: "Encrypt VALUE with LLM_SECRETS_KEY and print the sealed form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.ParseKey(c.cfg.LLMSecretsKey)
			if err != nil {
				return err
			}
			sealed, err := secrets.Seal(key, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	})
	return secretsCmd
}
