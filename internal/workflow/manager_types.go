package workflow

import (
	"context"

	"triad/internal/monitor"
	"triad/internal/stage"
	"triad/internal/store"
)

// StageSet bundles the concrete handlers the manager orchestrates.
type StageSet struct {
	Analysis      stage.Handler
	Preparation   stage.Handler
	Merging       stage.Handler
	Compression   stage.Handler
	StorageUpload stage.Handler
	Cleanup       stage.Handler
}

// ResultHandler receives the outcome of every job attempt. artifact is set
// only on success.
type ResultHandler interface {
	OnJobResult(ctx context.Context, job *store.MergeJob, artifact *store.Artifact, err error) error
}

// Recorder receives stage and job events for health monitoring.
type Recorder interface {
	Record(monitor.Event)
}

type pipelineStage struct {
	name    string
	index   int
	handler stage.Handler
}

type nopRecorder struct{}

func (nopRecorder) Record(monitor.Event) {}
