// Package root implements the command line interface for Otto.
package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/cmd/compile"
	"github.com/cooodecat/otto-handler/cmd/deployments"
	"github.com/cooodecat/otto-handler/cmd/executions"
	"github.com/cooodecat/otto-handler/cmd/output"
	"github.com/cooodecat/otto-handler/cmd/provision"
	"github.com/cooodecat/otto-handler/cmd/server"
	"github.com/cooodecat/otto-handler/cmd/utils"
	"github.com/cooodecat/otto-handler/cmd/version"
	"github.com/cooodecat/otto-handler/config"
	"github.com/cooodecat/otto-handler/logging"
)

func Execute() {
	if err := NewCmdRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCmdRoot() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "otto",
		Short: "Pipeline build and deployment orchestration",
		Long: `Otto compiles pipeline flow graphs into build scripts, provisions the cloud
resources each project builds with, and tracks builds and deployments to completion.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// CLI flags override config
			colorDisabled := !cfg.ColorEnabled
			if output.NoColor.IsSet() {
				colorDisabled = true
			}
			output.InitColors(colorDisabled)

			logLevel := cfg.LogLevel
			if logging.LogLevel.IsSet() {
				logLevel = logging.LogLevel.String()
			}
			logging.InitLogging(logLevel, cfg.LogFormat)

			switch utils.Needs(cmd) {
			case utils.NeedsStorage:
				if err := app.InitializeStorage(cfg); err != nil {
					return fmt.Errorf("failed to initialize storage: %w", err)
				}
			case utils.NeedsServices:
				if err := app.InitializeWithConfig(cmd.Context(), cfg); err != nil {
					return fmt.Errorf("failed to initialize application: %w", err)
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if utils.Needs(cmd) == "" {
				return nil
			}
			return app.Shutdown(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "Path to configuration file")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	output.AddNoColorFlag(cmd.PersistentFlags())

	cmd.AddCommand(
		server.NewCmdServer(),
		compile.NewCmdCompile(),
		provision.NewCmdProvision(),
		provision.NewCmdTeardown(),
		deployments.NewCmdDeployments(),
		executions.NewCmdExecutions(),
		version.NewCmdVersion(),
	)
	return cmd
}
