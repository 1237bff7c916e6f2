package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"triad/internal/api"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "session <merge-session-id>",
		Short: "Show a merge session's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.MergeSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderMergeStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func renderMergeStatus(out io.Writer, status *api.MergeSessionStatus) {
	colorize := shouldColorize(out)
	label := status.MergeSessionID
	if status.Title != "" {
		label = fmt.Sprintf("%s (%s)", status.Title, status.MergeSessionID)
	}
	for _, line := range renderSectionHeader(label, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("State", mergeStateKind(status.Status),
		fmt.Sprintf("%s, %.1f%%", status.Status, status.Percent), colorize))
	fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo,
		fmt.Sprintf("%d of %d", status.Attempts, status.MaxAttempts), colorize))
	if job := status.Job; job != nil {
		stage := job.Stage
		if job.WaitingForSlot {
			stage += " (waiting for compression slot)"
		}
		fmt.Fprintln(out, renderStatusLine("Job", mergeStateKind(job.Status),
			fmt.Sprintf("%s %s %.0f%%", job.Status, stage, job.StageProgress), colorize))
	}
	if status.ArtifactID != "" {
		fmt.Fprintln(out, renderStatusLine("Artifact", statusOK, status.ArtifactID, colorize))
	}
	if e := status.Error; e != nil {
		msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
		if e.Stage != "" {
			msg = fmt.Sprintf("%s (stage %s)", msg, e.Stage)
		}
		fmt.Fprintln(out, renderStatusLine("Error", statusError, msg, colorize))
	}
	if updated, err := time.Parse(time.RFC3339, status.UpdatedAt); err == nil {
		fmt.Fprintln(out, renderStatusLine("Updated", statusInfo, humanize.Time(updated), colorize))
	}

	rows := make([][]string, 0, len(status.Uploads))
	for _, u := range status.Uploads {
		rows = append(rows, []string{
			strconv.Itoa(u.StatementIndex + 1),
			u.UploadSessionID,
			u.Status,
			fmt.Sprintf("%s / %s", humanize.IBytes(uint64(u.ReceivedBytes)), humanize.IBytes(uint64(u.TotalBytes))),
			fmt.Sprintf("%.0f%%", u.Percent),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Statement", "Upload", "Status", "Received", "Progress"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	))
}

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "segments <artifact-id>",
		Short: "Print an artifact's streaming URL and statement segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			segs, err := client.Segments(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, segs)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "URL:      %s\n", segs.URL)
			fmt.Fprintf(out, "Expires:  %s\n", segs.ExpiresAt)
			fmt.Fprintf(out, "Size:     %s (%s)\n", humanize.IBytes(uint64(segs.ByteSize)), segs.ContentType)
			fmt.Fprintf(out, "Duration: %.2fs\n", segs.TotalDuration)
			rows := make([][]string, 0, len(segs.Segments))
			for _, seg := range segs.Segments {
				rows = append(rows, []string{
					strconv.Itoa(seg.StatementIndex + 1),
					formatSeconds(seg.StartTime),
					formatSeconds(seg.EndTime),
					formatSeconds(seg.Duration),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Statement", "Start", "End", "Duration"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Requested URL lifetime (capped by storage.url_ttl_seconds)")
	return cmd
}

func formatSeconds(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".") + "s"
}
