// Package provision implements the commands that create and destroy project resources.
package provision

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/cmd/output"
	"github.com/cooodecat/otto-handler/cmd/utils"
	"github.com/cooodecat/otto-handler/domain"
	provisioning "github.com/cooodecat/otto-handler/provision"
)

func NewCmdProvision() *cobra.Command {
	var (
		userID       string
		sourceType   string
		sourceURL    string
		pipelinePath string
		env          []string
	)

	cmd := &cobra.Command{
		Use:   "provision <project-id>",
		Short: "Create the cloud resources a project builds with",
		Long: `Create the container registry, log group, build project and event rule of a
project. When any step fails, everything created so far is removed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			environment, err := parseEnv(env)
			if err != nil {
				return err
			}

			var nodes []domain.PipelineNode
			if pipelinePath != "" {
				if nodes, err = utils.ReadPipelineFile(cmd, pipelinePath); err != nil {
					return err
				}
			}

			set, err := app.GetProvisionService().Provision(cmd.Context(), provisioning.ProjectConfig{
				ProjectID:   args[0],
				UserID:      userID,
				SourceType:  sourceType,
				SourceURL:   sourceURL,
				Nodes:       nodes,
				Environment: environment,
			})
			if err != nil {
				return fmt.Errorf("failed to provision project %s: %w", args[0], err)
			}

			out, err := output.PrintResourceSet(set)
			if err != nil {
				return err
			}
			if err := output.Fprint(cmd, output.Success, "Project %s provisioned", set.ProjectID); err != nil {
				return err
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the project")
	cmd.Flags().StringVar(&sourceType, "source-type", provisioning.DefaultSourceType, "Build source type")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Build source location")
	cmd.Flags().StringVarP(&pipelinePath, "pipeline", "p", "", "Pipeline file compiled into the stored build script")
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Build environment variable (KEY=VALUE, repeatable)")
	_ = cmd.MarkFlagRequired("user")
	return utils.RequireServices(cmd)
}

func NewCmdTeardown() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown <project-id>",
		Short: "Destroy the cloud resources of a project",
		Long: `Delete every resource recorded for a project. The record is kept when any
deletion fails so the teardown can be retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.GetProvisionService().Teardown(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to tear down project %s: %w", args[0], err)
			}
			return output.Fprint(cmd, output.Success, "Project %s torn down", args[0])
		},
	}
	return utils.RequireServices(cmd)
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
