package coordinator

import (
	"context"
	"fmt"

	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// OnChildCompleted promotes the owning merge session to merging once all
// three children are completed. Concurrent and repeated calls enqueue at
// most one job.
func (c *Coordinator) OnChildCompleted(ctx context.Context, uploadSessionID string) error {
	child, err := c.store.GetUploadSession(ctx, uploadSessionID)
	if err != nil {
		return err
	}
	if child == nil {
		return services.NotFound("upload session", uploadSessionID)
	}
	if child.MergeSessionID == "" {
		return nil
	}
	_, err = c.promote(services.WithMergeSessionID(ctx, child.MergeSessionID), child.MergeSessionID)
	return err
}

// promote enqueues the first merge job if every child is complete. It
// reports whether this call did the enqueue.
func (c *Coordinator) promote(ctx context.Context, mergeSessionID string) (bool, error) {
	logger := logging.WithContext(ctx, c.logger)
	children, err := c.store.ListUploadsForMerge(ctx, mergeSessionID)
	if err != nil {
		return false, err
	}
	completed := 0
	for _, u := range children {
		if u.Status == store.UploadCompleted {
			completed++
		}
	}
	if len(children) != StatementCount || completed != StatementCount {
		logger.Debug("merge session still collecting uploads",
			logging.Int("completed", completed),
			logging.Int("children", len(children)),
		)
		return false, nil
	}

	job := c.newJob(mergeSessionID, 1, "normal")
	ok, err := c.store.StartMerging(ctx, mergeSessionID, job)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Debug("merge job already queued")
		return false, nil
	}
	logger.Info("merge session promoted to merging",
		logging.String(logging.FieldEventType, "merge_promoted"),
		logging.String(logging.FieldJobID, job.ID),
	)
	c.submit(ctx, logger, job)
	return true, nil
}

// OnChildClosed fails a merge session that is still collecting uploads when
// one of its children is cancelled or expires. The remaining children are
// closed and their staged bytes released.
func (c *Coordinator) OnChildClosed(ctx context.Context, uploadSessionID string, status store.UploadStatus) error {
	child, err := c.store.GetUploadSession(ctx, uploadSessionID)
	if err != nil {
		return err
	}
	if child == nil || child.MergeSessionID == "" {
		return nil
	}
	ctx = services.WithMergeSessionID(ctx, child.MergeSessionID)

	desc := services.Describe(services.WithFields(
		services.Wrap(services.KindIncomplete, "", "collect uploads",
			fmt.Sprintf("statement %d upload was %s", child.StatementIndex, status), nil),
		map[string]any{"upload_session_id": child.ID, "statement_index": child.StatementIndex},
	))
	ok, err := c.store.AbandonMerge(ctx, child.MergeSessionID, &desc)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "merge session abandoned", "merge_abandoned",
		logging.String(logging.FieldUploadSessionID, child.ID),
		logging.String("child_status", string(status)),
		logging.String(logging.FieldErrorHint, "client must start a new merge session"),
		logging.String(logging.FieldImpact, "the other statements' uploads are discarded"),
	)

	siblings, err := c.store.ListUploadsForMerge(ctx, child.MergeSessionID)
	if err != nil {
		return err
	}
	for _, u := range siblings {
		if u.ID != child.ID && u.Status.Open() {
			if _, err := c.uploads.Cancel(ctx, u.ID); err != nil {
				c.logger.Debug("cancel sibling upload failed", logging.Error(err))
			}
		}
	}
	c.releaseInputs(ctx, child.MergeSessionID)
	if err := c.notifier.NotifyMergeFailed(ctx, child.MergeSessionID, desc); err != nil {
		c.logger.Debug("merge failure notification failed", logging.Error(err))
	}
	return nil
}
