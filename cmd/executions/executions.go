// Package executions implements the commands that inspect build executions.
package executions

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/cmd/output"
	"github.com/cooodecat/otto-handler/cmd/utils"
	"github.com/cooodecat/otto-handler/domain"
)

func NewCmdExecutions() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect build executions",
	}
	cmd.AddCommand(newCmdList(), newCmdShow())
	return cmd
}

func newCmdList() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <pipeline-id>",
		Short: "List executions of a pipeline, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executions, err := app.GetExecutionRepository().List(args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to retrieve executions for pipeline %s: %w", args[0], err)
			}

			out, err := output.PrintExecutionList(executions)
			if err != nil {
				return fmt.Errorf("failed to format executions: %w", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of executions to show")
	return utils.RequireStorage(cmd)
}

func newCmdShow() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execution, err := app.GetExecutionRepository().FindByID(args[0])
			if err != nil {
				return fmt.Errorf("failed to retrieve execution %s: %w", args[0], err)
			}

			out, err := output.PrintExecutionList([]*domain.Execution{execution})
			if err != nil {
				return fmt.Errorf("failed to format execution: %w", err)
			}
			if err := output.FprintPlain(cmd, "%s", out); err != nil {
				return err
			}
			if link := execution.MetadataString(build.MetaLogDeepLink); link != "" {
				return output.FprintPlain(cmd, "Logs: %s", link)
			}
			return nil
		},
	}
	return utils.RequireStorage(cmd)
}
