package stage

import (
	"fmt"
	"path/filepath"

	"triad/internal/media"
	"triad/internal/segment"
	"triad/internal/store"
)

// Run carries one job attempt's state from stage to stage. Each stage fills
// in the fields the next one reads; nothing here is persisted directly.
type Run struct {
	Job     *store.MergeJob
	Session *store.MergeSession
	Inputs  []*store.UploadSession // ordered by statement index
	WorkDir string
	Profile media.Profile

	Probes     []media.Info
	Normalized []media.Info
	Concat     media.Info
	Segments   []segment.Segment
	Compressed media.Info
	Artifact   *store.Artifact

	// Progress reports percent complete for the running stage.
	Progress media.ProgressFunc
	// WaitingForSlot flags the job while it is parked on the compression
	// governor.
	WaitingForSlot func(waiting bool)
}

// Path returns a file name inside the run's work directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.WorkDir, name)
}

// NormalizedPath returns the normalized output location of statement index.
func (r *Run) NormalizedPath(index int) string {
	return r.Path(fmt.Sprintf("statement-%d.norm.%s", index, intermediateExt))
}

// ConcatPath returns the pre-compression concatenation output.
func (r *Run) ConcatPath() string {
	return r.Path("concat." + intermediateExt)
}

// CompressedPath returns the final artifact location before publishing.
func (r *Run) CompressedPath() string {
	ext := r.Profile.Container
	if ext == "" {
		ext = "mp4"
	}
	return r.Path("merged." + ext)
}

// intermediateExt is the container for normalized and concatenated files.
// Matroska accepts every codec the profile can name and concatenates
// losslessly.
const intermediateExt = "mkv"

// ReportProgress forwards percent to the Progress hook when set.
func (r *Run) ReportProgress(percent float64) {
	if r != nil && r.Progress != nil {
		r.Progress(percent)
	}
}

// SetWaiting forwards the governor wait flag when a hook is set.
func (r *Run) SetWaiting(waiting bool) {
	if r != nil && r.WaitingForSlot != nil {
		r.WaitingForSlot(waiting)
	}
}

// Durations returns the measured durations of the normalized statements.
func (r *Run) Durations() []float64 {
	out := make([]float64, len(r.Normalized))
	for i, info := range r.Normalized {
		out[i] = info.Duration
	}
	return out
}
