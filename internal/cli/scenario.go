package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/sessionstate/internal/harness"
	"github.com/roach88/sessionstate/internal/logging"
)

// ScenarioRun is the result of one scenario file.
type ScenarioRun struct {
	File   string   `json:"file"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport is printed by the scenario command.
type ScenarioReport struct {
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Scenarios []ScenarioRun `json:"scenarios"`
}

// RenderText implements TextRenderer.
func (r ScenarioReport) RenderText(w io.Writer, p *message.Printer) error {
	var b bytes.Buffer
	for _, s := range r.Scenarios {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		p.Fprintf(&b, "%s  %s (%d steps)\n", status, s.Name, s.Steps)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "      %s\n", e)
		}
	}
	p.Fprintf(&b, "\n%d passed, %d failed\n", r.Passed, r.Failed)
	_, err := w.Write(b.Bytes())
	return err
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Replay YAML session scenarios",
		Long: `Replay YAML request scenarios against an in-memory store with a
deterministic clock and report expectation and assertion failures.

Example:
  sessionstate scenario ./internal/harness/testdata/scenarios
  sessionstate scenario lock_contention.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, cmd, args[0])
		},
	}
}

func runScenarios(opts *RootOptions, cmd *cobra.Command, path string) error {
	files, err := harness.FindScenarios(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	if len(files) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files in %s", path))
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.New(logging.Config{Level: level, Out: cmd.ErrOrStderr()})

	f := opts.formatter(cmd)
	report := ScenarioReport{Scenarios: []ScenarioRun{}}
	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load %s", file), err)
		}
		f.VerboseLog("running %s", scenario.Name)

		result, err := harness.Run(scenario, harness.WithLogger(logging.Component(logger, "harness")))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run %s", file), err)
		}

		report.Scenarios = append(report.Scenarios, ScenarioRun{
			File:   file,
			Name:   scenario.Name,
			Pass:   result.Pass,
			Steps:  len(result.Trace),
			Errors: result.Errors,
		})
		if result.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if err := f.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return &ExitError{
			Code:     ExitFailure,
			Message:  fmt.Sprintf("%d of %d scenarios failed", report.Failed, len(files)),
			Reported: true,
		}
	}
	return nil
}
