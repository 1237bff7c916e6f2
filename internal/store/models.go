package store

import (
	"time"

	"triad/internal/segment"
	"triad/internal/services"
)

// UploadStatus is the lifecycle state of one chunked upload.
type UploadStatus string

const (
	UploadInitiated  UploadStatus = "initiated"
	UploadInProgress UploadStatus = "in_progress"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
	UploadExpired    UploadStatus = "expired"
	UploadCancelled  UploadStatus = "cancelled"
)

// Open reports whether the upload still accepts chunks.
func (s UploadStatus) Open() bool {
	return s == UploadInitiated || s == UploadInProgress
}

// Terminal reports whether no further transition is possible.
func (s UploadStatus) Terminal() bool {
	return !s.Open()
}

// UploadSession is one statement video's transfer state.
type UploadSession struct {
	ID               string
	OwnerID          string
	MergeSessionID   string
	StatementIndex   int // -1 for standalone uploads
	Filename         string
	ContentType      string
	TotalSize        int64
	DeclaredDuration float64
	ChunkSize        int64
	TotalChunks      int
	DeclaredHash     string
	AssembledHash    string
	Status           UploadStatus
	StagingPath      string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
	CompletedAt      *time.Time
}

// ChunkOffset returns the byte offset of chunk index.
func (u *UploadSession) ChunkOffset(index int) int64 {
	return int64(index) * u.ChunkSize
}

// ChunkLength returns the expected byte length of chunk index.
func (u *UploadSession) ChunkLength(index int) int64 {
	if index == u.TotalChunks-1 {
		return u.TotalSize - u.ChunkOffset(index)
	}
	return u.ChunkSize
}

// Chunk is one received chunk registration.
type Chunk struct {
	Index      int
	Size       int64
	Hash       string
	ReceivedAt time.Time
}

// MergeStatus is the lifecycle state of a merge session.
type MergeStatus string

const (
	MergeInitiated MergeStatus = "initiated"
	MergeUploading MergeStatus = "uploading"
	MergeMerging   MergeStatus = "merging"
	MergeCompleted MergeStatus = "completed"
	MergeFailed    MergeStatus = "failed"
)

// MergeSession groups three uploads into one submission.
type MergeSession struct {
	ID             string
	OwnerID        string
	Title          string
	Status         MergeStatus
	JobQueued      bool
	Attempts       int
	ArtifactID     string
	Error          *services.Descriptor
	InputsReleased bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// JobStatus is the execution state of one merge job attempt.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// MergeJob is one attempt at producing an artifact for a merge session.
type MergeJob struct {
	ID             string
	MergeSessionID string
	Attempt        int
	Priority       string
	Status         JobStatus
	Stage          string
	StageIndex     int
	StageProgress  float64
	WaitingForSlot bool
	VideoCodec     string
	Quality        string
	Container      string
	WorkDir        string
	Error          *services.Descriptor
	EnqueuedAt     time.Time
	StartedAt      *time.Time
	StageStartedAt *time.Time
	ProgressAt     *time.Time
	FinishedAt     *time.Time
}

// Artifact is the published, merged output of a merge session.
type Artifact struct {
	ID             string
	MergeSessionID string
	OwnerID        string
	Backend        string
	ObjectKey      string
	Locator        string
	TotalDuration  float64
	ByteSize       int64
	Container      string
	VideoCodec     string
	AudioCodec     string
	ContentType    string
	Segments       []segment.Segment
	CreatedAt      time.Time
}
