package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Long: `Display the configuration after defaults, the config file, environment
variables, and flags are applied. The client secret is never printed.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if err := enc.Encode(config.Redacted(cc.Cfg)); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		return nil
	}

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cmd.OutOrStdout())
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a commented config file",
		Long:        `Write a config file with every setting at its default to the --config path or the platform default. An existing file is left alone.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := config.ResolveConfigPath(config.ReadEnvOverrides(), cliOverrides(cmd, cc.Flags))

			if err := config.WriteTemplate(path); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return fmt.Errorf("%s already exists; edit it or remove it first", path)
				}

				return err
			}

			cc.Statusf("Wrote %s\n", path)
			cc.Statusf("Set client_id, client_secret, and source_name from your Open Humans project.\n")

			return nil
		},
	}
}
