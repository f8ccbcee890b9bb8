// Package utils provides utility functions for CLI commands in Otto.
package utils

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cooodecat/otto-handler/cmd/output"
	"github.com/cooodecat/otto-handler/domain"
)

// Annotation keys telling the root command what to initialize before a subcommand runs
const (
	NeedsAnnotation = "otto/needs"
	NeedsStorage    = "storage"
	NeedsServices   = "services"
)

// RequireStorage marks cmd as reading records from the database
func RequireStorage(cmd *cobra.Command) *cobra.Command {
	return annotate(cmd, NeedsStorage)
}

// RequireServices marks cmd as calling the cloud collaborators
func RequireServices(cmd *cobra.Command) *cobra.Command {
	return annotate(cmd, NeedsServices)
}

func annotate(cmd *cobra.Command, need string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[NeedsAnnotation] = need
	return cmd
}

// Needs returns what cmd declared it needs, or ""
func Needs(cmd *cobra.Command) string {
	return cmd.Annotations[NeedsAnnotation]
}

// HandleCommandError provides consistent error handling for CLI commands
func HandleCommandError(operation string, err error, context ...any) {
	slog.Error("Command failed", append([]any{"operation", operation, "error", err}, context...)...)
	fmt.Fprint(os.Stderr, output.PrintMessage(output.Error, "Error: %s failed: %v", operation, err))
	os.Exit(1)
}

// ParseDeploymentID parses a deployment id argument
func ParseDeploymentID(input string) (uuid.UUID, error) {
	id, err := uuid.Parse(input)
	if err != nil {
		slog.Warn("Invalid UUID provided", "input", input)
		return uuid.Nil, fmt.Errorf("invalid deployment ID '%s': must be a valid UUID", input)
	}
	return id, nil
}

// ParsePipeline decodes a pipeline flow graph. Both a bare node list and a
// document with a top level "nodes" key are accepted, in YAML or JSON.
func ParsePipeline(data []byte) ([]domain.PipelineNode, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("pipeline is empty")
	}

	var nodes []domain.PipelineNode
	if err := yaml.Unmarshal(trimmed, &nodes); err == nil {
		return nodes, nil
	}

	var doc struct {
		Nodes []domain.PipelineNode `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	return doc.Nodes, nil
}

// ReadPipelineFile reads a pipeline flow graph from path, "-" meaning stdin
func ReadPipelineFile(cmd *cobra.Command, path string) ([]domain.PipelineNode, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		var buf bytes.Buffer
		_, err = buf.ReadFrom(cmd.InOrStdin())
		data = buf.Bytes()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}
