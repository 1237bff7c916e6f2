package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"triad/internal/api"
	"triad/internal/fileutil"
	"triad/internal/media/ffprobe"
)

type submitOptions struct {
	owner     string
	title     string
	durations []float64
	parallel  int
	wait      bool
	interval  time.Duration
}

// statementFile is one local video about to be uploaded.
type statementFile struct {
	path     string
	size     int64
	hash     string
	duration float64
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit <statement-1> <statement-2> <statement-3>",
		Short: "Upload three statement videos as one merge session",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.owner) == "" {
				return errors.New("--owner is required")
			}
			if len(opts.durations) != 0 && len(opts.durations) != len(args) {
				return fmt.Errorf("--durations needs %d values, got %d", len(args), len(opts.durations))
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}

			files := make([]statementFile, len(args))
			for i, path := range args {
				var declared float64
				if len(opts.durations) > 0 {
					declared = opts.durations[i]
				}
				files[i], err = describeStatement(cmd.Context(), cfg.FFprobeBinary(), path, declared)
				if err != nil {
					return err
				}
			}
			return submit(cmd.Context(), cmd.OutOrStdout(), client, files, opts)
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner id recorded on the merge session")
	cmd.Flags().StringVar(&opts.title, "title", "", "Optional merge session title")
	cmd.Flags().Float64SliceVar(&opts.durations, "durations", nil, "Declared durations in seconds (probed with ffprobe when omitted)")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 4, "Concurrent chunk uploads")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for the merge to finish")
	cmd.Flags().DurationVar(&opts.interval, "poll-interval", time.Second, "Status poll interval with --wait")
	return cmd
}

func describeStatement(ctx context.Context, ffprobeBinary, path string, duration float64) (statementFile, error) {
	hash, size, err := fileutil.HashFile(path)
	if err != nil {
		return statementFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	if duration <= 0 {
		probe, err := ffprobe.Inspect(ctx, ffprobeBinary, path)
		if err != nil {
			return statementFile{}, fmt.Errorf("probe %s: %w", path, err)
		}
		duration = probe.DurationSeconds()
	}
	return statementFile{path: path, size: size, hash: hash, duration: duration}, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "video/mp4"
}

func submit(ctx context.Context, out io.Writer, client *api.Client, files []statementFile, opts submitOptions) error {
	req := api.InitiateMergeRequest{OwnerID: opts.owner, Title: opts.title}
	for _, f := range files {
		req.Statements = append(req.Statements, api.StatementRequest{
			Filename:    filepath.Base(f.path),
			ContentType: contentTypeFor(f.path),
			Size:        f.size,
			Duration:    f.duration,
			SHA256:      f.hash,
		})
	}
	created, err := client.CreateMergeSession(ctx, req)
	if err != nil {
		return fmt.Errorf("create merge session: %w", err)
	}
	fmt.Fprintf(out, "Merge session %s created\n", created.MergeSessionID)

	handles := make([]*os.File, len(files))
	for i, f := range files {
		file, err := os.Open(f.path)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.path, err)
		}
		defer file.Close()
		handles[i] = file
	}

	var sent atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, opts.parallel))
	for i, u := range created.Uploads {
		file := handles[i]
		for idx := u.TotalChunks - 1; idx >= 0; idx-- {
			group.Go(func() error {
				offset := int64(idx) * u.ChunkSize
				buf := make([]byte, min(u.ChunkSize, u.TotalSize-offset))
				if _, err := file.ReadAt(buf, offset); err != nil {
					return fmt.Errorf("read chunk %d of %s: %w", idx, files[i].path, err)
				}
				if _, err := client.PutChunk(gctx, u.ID, idx, buf, fileutil.HashBytes(buf)); err != nil {
					return fmt.Errorf("upload chunk %d of %s: %w", idx, files[i].path, err)
				}
				sent.Add(int64(len(buf)))
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, u := range created.Uploads {
		if _, err := client.CompleteUpload(ctx, u.ID, files[i].hash); err != nil {
			return fmt.Errorf("complete %s: %w", files[i].path, err)
		}
	}
	fmt.Fprintf(out, "Uploaded %s in %d statements\n", humanize.IBytes(uint64(sent.Load())), len(files))

	if !opts.wait {
		fmt.Fprintf(out, "Track progress with: triad session %s\n", created.MergeSessionID)
		return nil
	}
	return waitForMerge(ctx, out, client, created.MergeSessionID, opts.interval)
}

func waitForMerge(ctx context.Context, out io.Writer, client *api.Client, id string, interval time.Duration) error {
	ticker := time.NewTicker(max(interval, 50*time.Millisecond))
	defer ticker.Stop()
	last := ""
	for {
		status, err := client.MergeSession(ctx, id)
		if err != nil {
			return err
		}
		line := status.Status
		if status.Status == "merging" && status.Job != nil && status.Job.Stage != "" {
			line = fmt.Sprintf("%s/%s", status.Status, status.Job.Stage)
		}
		if line != last {
			fmt.Fprintf(out, "%5.1f%% %s\n", status.Percent, line)
			last = line
		}
		switch status.Status {
		case "completed":
			fmt.Fprintf(out, "Artifact %s ready\n", status.ArtifactID)
			return nil
		case "failed":
			if status.Error != nil {
				return fmt.Errorf("merge failed: %s: %s", status.Error.Code, status.Error.Message)
			}
			return errors.New("merge failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
