package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"triad/internal/coordinator"
	"triad/internal/publisher"
	"triad/internal/services"
	"triad/internal/stage"
	"triad/internal/store"
	"triad/internal/upload"
	"triad/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromUploadSession converts a stored upload session. baseURL prefixes the
// chunk and complete URLs handed to the client.
func FromUploadSession(u *store.UploadSession, baseURL string) UploadSession {
	if u == nil {
		return UploadSession{}
	}
	base := strings.TrimRight(baseURL, "/") + "/api/uploads/" + u.ID
	out := UploadSession{
		ID:               u.ID,
		MergeSessionID:   u.MergeSessionID,
		Filename:         u.Filename,
		ContentType:      u.ContentType,
		TotalSize:        u.TotalSize,
		DeclaredDuration: u.DeclaredDuration,
		ChunkSize:        u.ChunkSize,
		TotalChunks:      u.TotalChunks,
		Status:           string(u.Status),
		ChunkURLTemplate: base + "/chunks/{index}",
		CompleteURL:      base + "/complete",
		ErrorMessage:     u.ErrorMessage,
		CreatedAt:        formatTime(u.CreatedAt),
		ExpiresAt:        formatTime(u.ExpiresAt),
		CompletedAt:      formatTimePtr(u.CompletedAt),
	}
	if u.StatementIndex >= 0 {
		idx := u.StatementIndex
		out.StatementIndex = &idx
	}
	return out
}

// FromCreated converts a freshly created merge session.
func FromCreated(created *coordinator.Created, baseURL string) MergeSessionCreated {
	out := MergeSessionCreated{
		MergeSessionID: created.Session.ID,
		Status:         string(created.Session.Status),
		StatusURL:      strings.TrimRight(baseURL, "/") + "/api/merge-sessions/" + created.Session.ID,
		Uploads:        make([]UploadSession, 0, len(created.Uploads)),
	}
	for _, u := range created.Uploads {
		out.Uploads = append(out.Uploads, FromUploadSession(u, baseURL))
	}
	return out
}

// FromReceipt converts a chunk receipt.
func FromReceipt(uploadSessionID string, index int, r upload.Receipt) ChunkReceipt {
	remaining := r.Remaining
	if remaining == nil {
		remaining = []int{}
	}
	return ChunkReceipt{
		UploadSessionID: uploadSessionID,
		ChunkIndex:      index,
		Status:          string(r.Status),
		ReceivedChunks:  len(r.Received),
		Remaining:       remaining,
	}
}

// FromMergeStatus converts the coordinator's aggregate status.
func FromMergeStatus(s *coordinator.Status, baseURL string) MergeSessionStatus {
	out := MergeSessionStatus{
		MergeSessionID: s.MergeSessionID,
		OwnerID:        s.OwnerID,
		Title:          s.Title,
		Status:         string(s.State),
		Percent:        s.Percent,
		Attempts:       s.Attempts,
		MaxAttempts:    s.MaxAttempts,
		Uploads:        make([]UploadProgress, 0, len(s.Uploads)),
		ArtifactID:     s.ArtifactID,
		CreatedAt:      formatTime(s.CreatedAt),
		UpdatedAt:      formatTime(s.UpdatedAt),
	}
	for _, u := range s.Uploads {
		out.Uploads = append(out.Uploads, UploadProgress{
			UploadSessionID: u.UploadSessionID,
			StatementIndex:  u.StatementIndex,
			Status:          string(u.Status),
			ReceivedBytes:   u.ReceivedBytes,
			TotalBytes:      u.TotalBytes,
			Percent:         u.Percent,
		})
	}
	if s.Job != nil {
		out.Job = &JobProgress{
			JobID:          s.Job.JobID,
			Attempt:        s.Job.Attempt,
			Status:         string(s.Job.Status),
			Stage:          s.Job.Stage,
			StageProgress:  s.Job.StageProgress,
			WaitingForSlot: s.Job.WaitingForSlot,
		}
	}
	if s.ArtifactID != "" {
		out.SegmentsURL = strings.TrimRight(baseURL, "/") + "/api/artifacts/" + s.ArtifactID + "/segments"
	}
	if s.Error != nil {
		body := FromDescriptor(*s.Error)
		out.Error = &body
	}
	return out
}

// FromStreamingDescriptor converts a publisher descriptor.
func FromStreamingDescriptor(d *publisher.StreamingDescriptor) ArtifactSegments {
	out := ArtifactSegments{
		ArtifactID:    d.ArtifactID,
		URL:           d.URL,
		SupportsRange: d.SupportsRange,
		ExpiresAt:     formatTime(d.ExpiresAt),
		ContentType:   d.ContentType,
		ByteSize:      d.ByteSize,
		TotalDuration: d.TotalDuration,
		Segments:      make([]Segment, 0, len(d.Segments)),
	}
	for _, seg := range d.Segments {
		out.Segments = append(out.Segments, Segment{
			StatementIndex: seg.StatementIndex,
			StartTime:      seg.Start,
			EndTime:        seg.End,
			Duration:       seg.Duration,
		})
	}
	return out
}

// FromDescriptor converts an error descriptor.
func FromDescriptor(d services.Descriptor) ErrorBody {
	return ErrorBody{
		Code:      d.Code,
		Kind:      string(d.Kind),
		Stage:     d.Stage,
		Message:   d.Message,
		Retryable: d.Retryable,
		Fields:    d.Fields,
	}
}

// FromError maps any error to its HTTP status and payload.
func FromError(err error) (int, ErrorResponse) {
	desc := services.Describe(err)
	return StatusForKind(desc.Kind), ErrorResponse{Error: FromDescriptor(desc)}
}

// StatusForKind maps the error taxonomy onto HTTP status codes.
func StatusForKind(kind services.Kind) int {
	switch kind {
	case services.KindValidation, services.KindIndex:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindIncomplete:
		return http.StatusConflict
	case services.KindIntegrity:
		return http.StatusUnprocessableEntity
	case services.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case services.KindStorage:
		return http.StatusServiceUnavailable
	case services.KindProcessingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromStatusSummary converts workflow status to its API representation.
func FromStatusSummary(s workflow.StatusSummary) WorkflowStatus {
	jobStats := make(map[string]int, len(s.JobStats))
	for status, n := range s.JobStats {
		jobStats[string(status)] = n
	}
	out := WorkflowStatus{
		Running:          s.Running,
		Workers:          s.Workers,
		ActiveJobs:       s.ActiveJobs,
		QueueDepths:      s.QueueDepths,
		JobStats:         jobStats,
		CompressionInUse: s.CompressionInUse,
		CompressionWait:  s.CompressionWait,
		CompressionSlots: s.CompressionSlots,
		LastError:        s.LastError,
		StageHealth:      StageHealthSlice(s.StageHealth),
	}
	if s.LastJob != nil {
		out.LastJobID = s.LastJob.ID
	}
	return out
}

// StageHealthSlice orders stage health by pipeline position.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return stage.Index(out[i].Name) < stage.Index(out[j].Name)
	})
	return out
}
