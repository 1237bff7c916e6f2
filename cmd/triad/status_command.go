package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"triad/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline and dependency status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(renderDaemonStatus(status, shouldColorize(out)), "\n"))
			return nil
		},
	}
}

func renderDaemonStatus(status *api.DaemonStatus, colorize bool) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "not running", colorize))
	}
	lines = append(lines,
		renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
		renderStatusLine("Storage", statusInfo, status.StorageBackend, colorize),
	)

	wf := status.Workflow
	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Pipeline", colorize)...)
	lines = append(lines,
		renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d active of %d", wf.ActiveJobs, wf.Workers), colorize),
		renderStatusLine("Compression", statusInfo, fmt.Sprintf("%d/%d slots busy, %d waiting", wf.CompressionInUse, wf.CompressionSlots, wf.CompressionWait), colorize),
	)
	if wf.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, wf.LastError, colorize))
	}
	for _, st := range wf.StageHealth {
		kind, msg := statusOK, "ready"
		if !st.Ready {
			kind, msg = statusError, st.Detail
		}
		lines = append(lines, renderStatusLine(st.Name, kind, msg, colorize))
	}
	if len(wf.JobStats) > 0 {
		keys := make([]string, 0, len(wf.JobStats))
		for k := range wf.JobStats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, strconv.Itoa(wf.JobStats[k])})
		}
		lines = append(lines, renderTable([]string{"Job status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range status.Dependencies {
		switch {
		case dep.Available:
			lines = append(lines, renderStatusLine(dep.Name, statusOK, dep.Command, colorize))
		case dep.Optional:
			lines = append(lines, renderStatusLine(dep.Name, statusWarn, dep.Detail, colorize))
		default:
			lines = append(lines, renderStatusLine(dep.Name, statusError, dep.Detail, colorize))
		}
	}
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}
