// Package deployments implements the commands that inspect and drive deployments.
package deployments

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/cmd/output"
	"github.com/cooodecat/otto-handler/cmd/utils"
	"github.com/cooodecat/otto-handler/domain"
)

func NewCmdDeployments() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Inspect and manage deployments",
	}

	cmd.AddCommand(
		newCmdList(),
		newCmdShow(),
		newCmdFail(),
		newCmdRollBack(),
	)
	return cmd
}

func newCmdList() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <pipeline-id>",
		Short: "List deployments of a pipeline, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deployments, err := app.GetDeploymentRepository().List(args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to retrieve deployments for pipeline %s: %w", args[0], err)
			}

			out, err := output.PrintDeploymentList(deployments)
			if err != nil {
				return fmt.Errorf("failed to format deployments: %w", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of deployments to show")
	return utils.RequireStorage(cmd)
}

func newCmdShow() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <deployment-id>",
		Short: "Show a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseDeploymentID(args[0])
			if err != nil {
				return err
			}

			deployment, err := app.GetDeploymentRepository().FindByID(id)
			if err != nil {
				return fmt.Errorf("failed to retrieve deployment %s: %w", id, err)
			}
			return printDeployment(cmd, deployment)
		},
	}
	return utils.RequireStorage(cmd)
}

func newCmdFail() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <deployment-id>",
		Short: "Mark an active deployment as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseDeploymentID(args[0])
			if err != nil {
				return err
			}

			deployment, err := app.GetDeployMachine().Fail(cmd.Context(), id, reason)
			if err != nil {
				return fmt.Errorf("failed to fail deployment %s: %w", id, err)
			}
			return printDeployment(cmd, deployment)
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "failed by operator", "Failure reason recorded on the deployment")
	return utils.RequireServices(cmd)
}

func newCmdRollBack() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <deployment-id>",
		Short: "Mark a finished deployment as rolled back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := utils.ParseDeploymentID(args[0])
			if err != nil {
				return err
			}

			deployment, err := app.GetDeployMachine().RollBack(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to roll back deployment %s: %w", id, err)
			}
			return printDeployment(cmd, deployment)
		},
	}
	return utils.RequireServices(cmd)
}

func printDeployment(cmd *cobra.Command, deployment *domain.Deployment) error {
	out, err := output.PrintDeploymentDetails(deployment)
	if err != nil {
		return fmt.Errorf("failed to format deployment: %w", err)
	}
	return output.FprintPlain(cmd, "%s", out)
}
