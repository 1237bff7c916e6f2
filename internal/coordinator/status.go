package coordinator

import (
	"context"
	"math"
	"time"

	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
)

// UploadProgress is one child upload's contribution to a merge status.
type UploadProgress struct {
	UploadSessionID string             `json:"upload_session_id"`
	StatementIndex  int                `json:"statement_index"`
	Status          store.UploadStatus `json:"status"`
	ReceivedBytes   int64              `json:"received_bytes"`
	TotalBytes      int64              `json:"total_bytes"`
	TotalChunks     int                `json:"total_chunks"`
	Percent         float64            `json:"percent"`
}

// JobProgress describes the active or most recent merge job.
type JobProgress struct {
	JobID          string          `json:"job_id"`
	Attempt        int             `json:"attempt"`
	Status         store.JobStatus `json:"status"`
	Stage          string          `json:"stage,omitempty"`
	StageProgress  float64         `json:"stage_progress"`
	WaitingForSlot bool            `json:"waiting_for_slot"`
}

// Status is the aggregate view of a merge session.
type Status struct {
	MergeSessionID string               `json:"merge_session_id"`
	OwnerID        string               `json:"owner_id"`
	Title          string               `json:"title,omitempty"`
	State          store.MergeStatus    `json:"state"`
	Percent        float64              `json:"percent"`
	Attempts       int                  `json:"attempts"`
	MaxAttempts    int                  `json:"max_attempts"`
	Uploads        []UploadProgress     `json:"uploads"`
	Job            *JobProgress         `json:"job,omitempty"`
	ArtifactID     string               `json:"artifact_id,omitempty"`
	Error          *services.Descriptor `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// GetStatus composes child upload progress and the merge job's stage into
// one percent: uploads fill [0, w), the pipeline fills [w, 100], where w is
// merge.upload_weight.
func (c *Coordinator) GetStatus(ctx context.Context, mergeSessionID string) (*Status, error) {
	session, err := c.store.GetMergeSession(ctx, mergeSessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, services.NotFound("merge session", mergeSessionID)
	}
	children, err := c.store.ListUploadsForMerge(ctx, mergeSessionID)
	if err != nil {
		return nil, err
	}
	received, err := c.store.ReceivedBytes(ctx, mergeSessionID)
	if err != nil {
		return nil, err
	}

	status := &Status{
		MergeSessionID: session.ID,
		OwnerID:        session.OwnerID,
		Title:          session.Title,
		State:          session.Status,
		Attempts:       session.Attempts,
		MaxAttempts:    c.cfg.Merge.MaxRetries + 1,
		ArtifactID:     session.ArtifactID,
		Error:          session.Error,
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
		Uploads:        make([]UploadProgress, 0, len(children)),
	}
	var uploadFraction float64
	for _, u := range children {
		got := received[u.ID]
		if u.Status == store.UploadCompleted {
			got = u.TotalSize
		}
		fraction := 0.0
		if u.TotalSize > 0 {
			fraction = min(float64(got)/float64(u.TotalSize), 1)
		}
		uploadFraction += fraction / StatementCount
		status.Uploads = append(status.Uploads, UploadProgress{
			UploadSessionID: u.ID,
			StatementIndex:  u.StatementIndex,
			Status:          u.Status,
			ReceivedBytes:   got,
			TotalBytes:      u.TotalSize,
			TotalChunks:     u.TotalChunks,
			Percent:         round(fraction * 100),
		})
	}

	var pipelineFraction float64
	if session.JobQueued {
		job, err := c.store.LatestJobForMerge(ctx, mergeSessionID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			status.Job = &JobProgress{
				JobID:          job.ID,
				Attempt:        job.Attempt,
				Status:         job.Status,
				Stage:          job.Stage,
				StageProgress:  job.StageProgress,
				WaitingForSlot: job.WaitingForSlot,
			}
			if job.Status == store.JobSucceeded {
				pipelineFraction = 1
			} else {
				pipelineFraction = stage.Fraction(job.StageIndex, job.StageProgress)
			}
		}
	}

	weight := min(max(c.cfg.Merge.UploadWeight, 0), 1)
	switch session.Status {
	case store.MergeCompleted:
		status.Percent = 100
	case store.MergeMerging, store.MergeFailed:
		if session.JobQueued {
			status.Percent = round((weight + (1-weight)*pipelineFraction) * 100)
			break
		}
		status.Percent = round(weight * uploadFraction * 100)
	default:
		status.Percent = round(weight * uploadFraction * 100)
	}
	return status, nil
}

func round(v float64) float64 {
	return math.Round(v*10) / 10
}
