// Package compile implements the command that turns a pipeline into a build script.
package compile

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cooodecat/otto-handler/buildspec"
	"github.com/cooodecat/otto-handler/cmd/utils"
)

func NewCmdCompile() *cobra.Command {
	var (
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "compile <pipeline-file>",
		Short: "Compile a pipeline into a build script",
		Long: `Compile a pipeline flow graph (YAML or JSON, "-" for stdin) into the
three-phase build script handed to the build service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := utils.ReadPipelineFile(cmd, args[0])
			if err != nil {
				return err
			}

			doc := buildspec.Compile(nodes)
			var out []byte
			switch format {
			case "yaml":
				out, err = doc.YAML()
			case "json":
				out, err = doc.JSON()
				out = append(out, '\n')
			default:
				return fmt.Errorf("unknown format %q, expected yaml or json", format)
			}
			if err != nil {
				return fmt.Errorf("failed to render build script: %w", err)
			}

			if outputPath != "" {
				return os.WriteFile(outputPath, out, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml or json)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the build script to a file instead of stdout")
	return cmd
}
