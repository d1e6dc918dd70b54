package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sakif/agentcoder/internal/model"
	"github.com/sakif/agentcoder/internal/orchestrator"
)

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorBorder  = lipgloss.Color("#16858E")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
)

var styles = struct {
	Title   lipgloss.Style
	Step    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	SuccessBox lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Step:    lipgloss.NewStyle().Bold(true).Width(9),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),

	Box:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1),
	SuccessBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorSuccess).Padding(0, 1),
	WarningBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorWarning).Padding(0, 1),
	ErrorBox:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorError).Padding(0, 1),
}

// maxErrorLines caps how much of an execution error a step line shows.
const maxErrorLines = 3

func renderHeader(requirement string) string {
	return styles.Title.Render("Requirement") + "\n" + styles.Box.Render(requirement)
}

// renderSnapshot prints one line per step, plus the detail that step added:
// the test cases after test, the error after a failed execute.
func renderSnapshot(s orchestrator.Snapshot) string {
	rec := s.Record
	var b strings.Builder

	prefix := styles.Muted.Render(fmt.Sprintf("%3d ", s.Seq))
	switch s.State {
	case orchestrator.StateGenerate:
		fmt.Fprintf(&b, "%s%s %s", prefix, styles.Step.Render("generate"),
			styles.Muted.Render(fmt.Sprintf("%d lines of code", lineCount(rec.Code))))

	case orchestrator.StateTest:
		fmt.Fprintf(&b, "%s%s %s", prefix, styles.Step.Render("test"),
			styles.Muted.Render(fmt.Sprintf("%d test cases", rec.Tests.Len())))
		for i := 0; i < rec.Tests.Len(); i++ {
			fmt.Fprintf(&b, "\n      %s %s %s", compactJSON(rec.Tests.Inputs[i]),
				styles.Muted.Render("→"), compactJSON(rec.Tests.Expected(i)))
		}

	case orchestrator.StateExecute:
		if rec.Success {
			fmt.Fprintf(&b, "%s%s %s", prefix, styles.Step.Render("execute"), styles.Success.Render("✓ all tests passed"))
			break
		}
		fmt.Fprintf(&b, "%s%s %s", prefix, styles.Step.Render("execute"), styles.Error.Render("✗ tests failed"))
		for _, line := range firstLines(rec.Error, maxErrorLines) {
			b.WriteString("\n      " + styles.Error.Render(line))
		}

	case orchestrator.StateDebug:
		fmt.Fprintf(&b, "%s%s %s", prefix, styles.Step.Render("debug"),
			styles.Warning.Render(fmt.Sprintf("repair %d of %d", rec.RetryCount, orchestrator.MaxRetries)))

	case orchestrator.StateTerminal:
		fmt.Fprintf(&b, "%s%s", prefix, styles.Step.Render("done"))

	default:
		fmt.Fprintf(&b, "%s%s", prefix, styles.Step.Render(s.State.String()))
	}
	return b.String()
}

func renderCode(code string) string {
	return styles.Title.Render("Code") + "\n" + styles.Box.Render(strings.TrimRight(code, "\n"))
}

// renderOutcome is the closing banner of a run.
func renderOutcome(status model.RunStatus, res orchestrator.Result, err error) string {
	summary := fmt.Sprintf("%d executions in %s", res.Executions, res.Duration.Round(time.Millisecond))

	switch status {
	case model.StatusSucceeded:
		return styles.SuccessBox.Render(styles.Success.Render("✓ succeeded") + "  " + summary)
	case model.StatusExhausted:
		body := styles.Warning.Render("⚠ exhausted") + "  " + summary +
			"\nThe code still fails its tests after " + fmt.Sprint(orchestrator.MaxRetries) + " repairs."
		if res.Record.Error != "" {
			body += "\n" + strings.Join(firstLines(res.Record.Error, maxErrorLines), "\n")
		}
		return styles.WarningBox.Render(body)
	case model.StatusCanceled:
		return styles.WarningBox.Render(styles.Warning.Render("○ canceled") + "  " + summary)
	default:
		body := styles.Error.Render("✗ failed")
		if err != nil {
			body += "  " + err.Error()
		}
		return styles.ErrorBox.Render(body)
	}
}

func lineCount(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func firstLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n:n], "…")
	}
	return lines
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
