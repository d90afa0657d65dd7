package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/castguard/castguard/internal/config"
)

func (a *app) checkCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check --config <path>",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				return fmt.Errorf("check requires --config <path>")
			}
			return runCheck(configPath, a.stdout, a.stderr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	return cmd
}

func runCheck(configPath string, stdout io.Writer, stderr io.Writer) error {
	lintErrs, err := config.LintFile(configPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Configuration OK")
		return nil
	}

	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return fmt.Errorf("configuration validation failed")
}
