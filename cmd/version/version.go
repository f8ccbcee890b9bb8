// Package version provides the version command for Otto.
package version

import (
	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/app"
	"github.com/cooodecat/otto-handler/cmd/output"
)

// NewCmdVersion creates the version command
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information for Otto.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output.FprintPlain(cmd, "%s", app.Version)
		},
	}
}
