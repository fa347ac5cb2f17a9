package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/liamcoop/loanorchestrator/decision"
)

var runFlags struct {
	applicationID string
	pipelineID    string
	fixtures      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline against one application and print the outcome",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.applicationID, "application", "", "Application ID (required)")
	f.StringVar(&runFlags.pipelineID, "pipeline", "", "Pipeline ID (required)")
	f.StringVar(&runFlags.fixtures, "fixtures", "", "YAML fixtures to seed before running")

	_ = runCmd.MarkFlagRequired("application")
	_ = runCmd.MarkFlagRequired("pipeline")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if runFlags.fixtures != "" {
		if err := seedFile(ctx, a.store, runFlags.fixtures); err != nil {
			return err
		}
	}

	run, err := a.executor.Run(ctx, runFlags.applicationID, runFlags.pipelineID)
	if err != nil {
		return err
	}
	printRun(cmd.OutOrStdout(), run)
	return nil
}

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
	stepStyle    = lipgloss.NewStyle().Width(18)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	outcomeStyle = map[string]lipgloss.Style{
		"PASS":  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"SAFE":  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"FAIL":  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"RISKY": lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
	statusStyle = map[decision.Status]lipgloss.Style{
		decision.StatusApproved:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		decision.StatusRejected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		decision.StatusNeedsReview: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
	}
)

// printRun writes a human-readable summary of a completed run.
func printRun(w io.Writer, run *decision.Run) {
	fmt.Fprintln(w, labelStyle.Render("Run:")+fmt.Sprintf("#%d", run.ID))
	fmt.Fprintln(w, labelStyle.Render("Application:")+run.ApplicationID)
	fmt.Fprintln(w, labelStyle.Render("Pipeline:")+run.PipelineID)
	if run.EndTime != nil {
		fmt.Fprintln(w, labelStyle.Render("Duration:")+run.EndTime.Sub(run.StartTime).String())
	}

	fmt.Fprintln(w)
	for _, log := range run.StepLogs {
		style, ok := outcomeStyle[log.Outcome]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			stepStyle.Render(log.StepType),
			style.Width(6).Render(log.Outcome),
			detailStyle.Render(formatDetail(log.Detail)))
	}
	fmt.Fprintln(w)

	if run.FinalStatus != nil {
		fmt.Fprintln(w, labelStyle.Render("Final status:")+statusStyle[*run.FinalStatus].Render(string(*run.FinalStatus)))
	}
}

func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
