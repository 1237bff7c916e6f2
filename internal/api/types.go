package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StatementRequest describes one statement video the client is about to send.
type StatementRequest struct {
	Filename    string  `json:"filename" validate:"required,max=255"`
	ContentType string  `json:"contentType" validate:"required,max=100"`
	Size        int64   `json:"size" validate:"required,gt=0"`
	Duration    float64 `json:"duration" validate:"required,gt=0"`
	SHA256      string  `json:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// InitiateMergeRequest is the body of POST /api/merge-sessions.
type InitiateMergeRequest struct {
	OwnerID    string             `json:"ownerId" validate:"required,max=128"`
	Title      string             `json:"title,omitempty" validate:"max=200"`
	Statements []StatementRequest `json:"statements" validate:"len=3,dive"`
}

// InitiateUploadRequest is the body of POST /api/uploads.
type InitiateUploadRequest struct {
	OwnerID string `json:"ownerId" validate:"required,max=128"`
	StatementRequest
}

// CompleteUploadRequest is the optional body of POST /api/uploads/{id}/complete.
type CompleteUploadRequest struct {
	SHA256 string `json:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

// UploadSession is the transport view of one chunked upload.
type UploadSession struct {
	ID               string  `json:"id"`
	MergeSessionID   string  `json:"mergeSessionId,omitempty"`
	StatementIndex   *int    `json:"statementIndex,omitempty"`
	Filename         string  `json:"filename"`
	ContentType      string  `json:"contentType"`
	TotalSize        int64   `json:"totalSize"`
	DeclaredDuration float64 `json:"declaredDuration"`
	ChunkSize        int64   `json:"chunkSize"`
	TotalChunks      int     `json:"totalChunks"`
	Status           string  `json:"status"`
	ChunkURLTemplate string  `json:"chunkUrlTemplate"`
	CompleteURL      string  `json:"completeUrl"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	CreatedAt        string  `json:"createdAt,omitempty"`
	ExpiresAt        string  `json:"expiresAt,omitempty"`
	CompletedAt      string  `json:"completedAt,omitempty"`
}

// MergeSessionCreated answers POST /api/merge-sessions.
type MergeSessionCreated struct {
	MergeSessionID string          `json:"mergeSessionId"`
	Status         string          `json:"status"`
	StatusURL      string          `json:"statusUrl"`
	Uploads        []UploadSession `json:"uploads"`
}

// ChunkReceipt answers PUT /api/uploads/{id}/chunks/{index}.
type ChunkReceipt struct {
	UploadSessionID string `json:"uploadSessionId"`
	ChunkIndex      int    `json:"chunkIndex"`
	Status          string `json:"status"`
	ReceivedChunks  int    `json:"receivedChunks"`
	Remaining       []int  `json:"remaining"`
}

// UploadProgress is one statement's share of a merge session status.
type UploadProgress struct {
	UploadSessionID string  `json:"uploadSessionId"`
	StatementIndex  int     `json:"statementIndex"`
	Status          string  `json:"status"`
	ReceivedBytes   int64   `json:"receivedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	Percent         float64 `json:"percent"`
}

// JobProgress describes the current merge attempt.
type JobProgress struct {
	JobID          string  `json:"jobId"`
	Attempt        int     `json:"attempt"`
	Status         string  `json:"status"`
	Stage          string  `json:"stage,omitempty"`
	StageProgress  float64 `json:"stageProgress"`
	WaitingForSlot bool    `json:"waitingForSlot"`
}

// MergeSessionStatus answers GET /api/merge-sessions/{id}.
type MergeSessionStatus struct {
	MergeSessionID string           `json:"mergeSessionId"`
	OwnerID        string           `json:"ownerId"`
	Title          string           `json:"title,omitempty"`
	Status         string           `json:"status"`
	Percent        float64          `json:"percent"`
	Attempts       int              `json:"attempts"`
	MaxAttempts    int              `json:"maxAttempts"`
	Uploads        []UploadProgress `json:"uploads"`
	Job            *JobProgress     `json:"job,omitempty"`
	ArtifactID     string           `json:"artifactId,omitempty"`
	SegmentsURL    string           `json:"segmentsUrl,omitempty"`
	Error          *ErrorBody       `json:"error,omitempty"`
	CreatedAt      string           `json:"createdAt,omitempty"`
	UpdatedAt      string           `json:"updatedAt,omitempty"`
}

// Segment is one statement's time range inside the merged artifact.
type Segment struct {
	StatementIndex int     `json:"statementIndex"`
	StartTime      float64 `json:"startTime"`
	EndTime        float64 `json:"endTime"`
	Duration       float64 `json:"duration"`
}

// ArtifactSegments answers GET /api/artifacts/{id}/segments.
type ArtifactSegments struct {
	ArtifactID    string    `json:"artifactId"`
	URL           string    `json:"url"`
	SupportsRange bool      `json:"supportsRange"`
	ExpiresAt     string    `json:"expiresAt"`
	ContentType   string    `json:"contentType"`
	ByteSize      int64     `json:"byteSize"`
	TotalDuration float64   `json:"totalDuration"`
	Segments      []Segment `json:"segments"`
}

// ErrorBody is the user-visible failure shape.
type ErrorBody struct {
	Code      string         `json:"code"`
	Kind      string         `json:"kind"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ErrorResponse wraps ErrorBody for failed requests.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes merge engine state.
type WorkflowStatus struct {
	Running          bool           `json:"running"`
	Workers          int            `json:"workers"`
	ActiveJobs       int            `json:"activeJobs"`
	QueueDepths      map[string]int `json:"queueDepths"`
	JobStats         map[string]int `json:"jobStats"`
	CompressionInUse int            `json:"compressionInUse"`
	CompressionWait  int            `json:"compressionWaiting"`
	CompressionSlots int            `json:"compressionSlots"`
	LastError        string         `json:"lastError,omitempty"`
	LastJobID        string         `json:"lastJobId,omitempty"`
	StageHealth      []StageHealth  `json:"stageHealth"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool               `json:"running"`
	PID            int                `json:"pid"`
	DatabasePath   string             `json:"databasePath"`
	LockFilePath   string             `json:"lockFilePath"`
	StorageBackend string             `json:"storageBackend"`
	Workflow       WorkflowStatus     `json:"workflow"`
	Dependencies   []DependencyStatus `json:"dependencies"`
	Checks         []CheckResult      `json:"checks"`
}
