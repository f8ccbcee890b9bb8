// Package output provides functions to print messages with optional color formatting
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cooodecat/otto-handler/build"
	"github.com/cooodecat/otto-handler/domain"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

const timeLayout = "2006-01-02 15:04:05"

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// now is replaced in tests
var now = time.Now

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled)
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}
	return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
}

// FprintPlain writes an uncolored line to the command's output
func FprintPlain(cmd *cobra.Command, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(Plain, tmpl, a...))
	return err
}

// Fprint writes a colored line to the command's output
func Fprint(cmd *cobra.Command, kind color.Attribute, tmpl string, a ...any) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), PrintMessage(kind, tmpl, a...))
	return err
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// Ago renders t relative to now, or "-" for a missing time
func Ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.RelTime(*t, now(), "ago", "from now")
}

func deploymentStatusColor(status domain.DeploymentStatus) color.Attribute {
	switch status {
	case domain.DeploymentStatusSuccess:
		return Success
	case domain.DeploymentStatusFailed, domain.DeploymentStatusRolledBack:
		return Error
	case domain.DeploymentStatusUnknown:
		return Plain
	default:
		return Warning
	}
}

func executionStatusColor(status domain.ExecutionStatus) color.Attribute {
	switch status {
	case domain.ExecutionStatusSuccess:
		return Success
	case domain.ExecutionStatusFailed:
		return Error
	case domain.ExecutionStatusPending, domain.ExecutionStatusRunning:
		return Warning
	default:
		return Plain
	}
}

func colorize(kind color.Attribute, s string) string {
	if maybeColorize == nil || kind == Plain {
		return s
	}
	return maybeColorize(kind, "%s", s)
}

func PrintExecutionList(executions []*domain.Execution) (string, error) {
	if len(executions) == 0 {
		return PrintMessage(Plain, "No executions found."), nil
	}

	header := []string{"ID", "Status", "Build #", "Image Tag", "Started", "Completed"}
	var data [][]string
	for _, e := range executions {
		buildNumber := "-"
		if n, ok := e.Metadata[build.MetaBuildNumber]; ok {
			buildNumber = fmt.Sprint(n)
		}
		imageTag := e.MetadataString(build.MetaImageTag)
		if imageTag == "" {
			imageTag = "-"
		}
		data = append(data, []string{
			e.ID,
			colorize(executionStatusColor(e.Status), e.Status.String()),
			buildNumber,
			imageTag,
			Ago(&e.StartedAt),
			Ago(e.CompletedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing execution list table: %w", err)
	}
	return table, nil
}

func PrintDeploymentList(deployments []*domain.Deployment) (string, error) {
	if len(deployments) == 0 {
		return PrintMessage(Plain, "No deployments found."), nil
	}

	header := []string{"ID", "Status", "Type", "URL", "Started", "Completed"}
	var data [][]string
	for _, d := range deployments {
		url := d.DeployURL
		if url == "" {
			url = "-"
		}
		data = append(data, []string{
			d.ID.String(),
			colorize(deploymentStatusColor(d.Status), d.Status.String()),
			d.DeploymentType.String(),
			url,
			Ago(&d.StartedAt),
			Ago(d.CompletedAt),
		})
	}

	table, err := PrintTable(header, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment list table: %w", err)
	}
	return table, nil
}

func PrintDeploymentDetails(d *domain.Deployment) (string, error) {
	data := [][]string{
		{"ID", d.ID.String()},
		{"Pipeline", d.PipelineID},
		{"Project", d.ProjectID},
		{"Status", colorize(deploymentStatusColor(d.Status), d.Status.String())},
		{"Type", d.DeploymentType.String()},
		{"Version", fmt.Sprint(d.Version)},
	}
	optional := [][2]string{
		{"URL", d.DeployURL},
		{"Service", d.OrchestratorServiceRef},
		{"Target Group", d.TargetGroupRef},
		{"Load Balancer", d.LoadBalancerRef},
		{"Image", d.ImageURI},
		{"Error", d.ErrorMessage},
		{"Task Definition", d.Metadata.TaskDefinition},
	}
	for _, row := range optional {
		if row[1] != "" {
			data = append(data, []string{row[0], row[1]})
		}
	}
	data = append(data,
		[]string{"Running Tasks", fmt.Sprint(len(d.Metadata.RunningTasks))},
		[]string{"Healthy Targets", fmt.Sprint(len(d.Metadata.HealthyTargets))},
		[]string{"Started At", d.StartedAt.Format(timeLayout)},
		[]string{"Deployed", Ago(d.DeployedAt)},
		[]string{"Completed", Ago(d.CompletedAt)},
	)

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing deployment details table: %w", err)
	}
	return table, nil
}

func PrintResourceSet(set *domain.ProvisionedResourceSet) (string, error) {
	data := [][]string{{"Project", set.ProjectID}, {"User", set.UserID}}
	optional := [][2]string{
		{"Registry", set.RegistryURI},
		{"Build Project", set.BuildProjectName},
		{"Build Project ARN", set.BuildProjectARN},
		{"Log Group", set.LogDestinationName},
		{"Event Rule", set.EventSubscriptionID},
	}
	for _, row := range optional {
		if row[1] != "" {
			data = append(data, []string{row[0], row[1]})
		}
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing resource table: %w", err)
	}
	return table, nil
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

// AddNoColorFlag registers NoColor as --no-color/-c on flags
func AddNoColorFlag(flags *pflag.FlagSet) {
	addNoColorFlag(flags, NoColor)
}

func addNoColorFlag(flags *pflag.FlagSet, flag *noColorFlag) {
	f := flags.VarPF(flag, "no-color", "c", "Disable colored terminal output")
	f.NoOptDefVal = "true"
}

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	// This is a boolean flag, so we ignore the value and just mark it as set
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
