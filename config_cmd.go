package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration after env and flag overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file and state database paths",
		Args:  cobra.NoArgs,
		RunE:  runConfigPath,
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		redacted := *resolvedCfg
		if redacted.Storage.S3.SecretAccessKey != "" {
			redacted.Storage.S3.SecretAccessKey = "<redacted>"
		}

		return printJSON(cmd.OutOrStdout(), redacted)
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"config": resolvedCfg.Path,
			"store":  resolvedCfg.Store.Path,
		})
	}

	printTable(cmd.OutOrStdout(), []string{"WHAT", "PATH"}, [][]string{
		{"config", resolvedCfg.Path},
		{"store", resolvedCfg.Store.Path},
	})

	return nil
}
