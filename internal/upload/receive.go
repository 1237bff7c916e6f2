package upload

import (
	"context"
	"fmt"
	"os"

	"triad/internal/fileutil"
	"triad/internal/logging"
	"triad/internal/services"
	"triad/internal/store"
)

// Receipt summarizes a session after a chunk was accepted.
type Receipt struct {
	Status    store.UploadStatus `json:"status"`
	Received  []int              `json:"received"`
	Remaining []int              `json:"remaining"`
}

// ReceiveChunk validates one chunk, writes it at its byte offset and records
// it. Calls for different chunks of the same session may run concurrently; a
// repeated index overwrites the earlier bytes. A chunk never lands after
// Complete has hashed the staged file.
func (s *Service) ReceiveChunk(ctx context.Context, sessionID string, index int, data []byte, chunkHash string) (Receipt, error) {
	lock := s.sessionLock(sessionID)
	lock.RLock()
	defer lock.RUnlock()

	u, err := s.openSession(ctx, sessionID, "receive_chunk")
	if err != nil {
		return Receipt{}, err
	}
	ctx = sessionContext(ctx, u)

	if index < 0 || index >= u.TotalChunks {
		return Receipt{}, services.IndexOutOfRange(u.ID, index, u.TotalChunks)
	}
	if want := u.ChunkLength(index); int64(len(data)) != want {
		return Receipt{}, services.WithFields(
			services.Wrap(services.KindValidation, "", "receive_chunk", fmt.Sprintf("chunk %d must be %d bytes, got %d", index, want, len(data)), nil),
			map[string]any{"chunk_index": index, "expected_size": want, "actual_size": len(data)},
		)
	}
	actual := fileutil.HashBytes(data)
	if !fileutil.HashMatches(chunkHash, actual) {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "chunk rejected", "chunk_integrity_failed",
			logging.Int("chunk_index", index),
			logging.String(logging.FieldErrorHint, "client must resend the chunk"),
			logging.String(logging.FieldImpact, "chunk discarded; session stays open"),
		)
		return Receipt{}, services.WithFields(
			services.IntegrityMismatch("receive_chunk", fileutil.NormalizeHash(chunkHash), actual),
			map[string]any{"chunk_index": index},
		)
	}

	if err := writeAt(u.StagingPath, u.ChunkOffset(index), data); err != nil {
		return Receipt{}, services.Wrap(services.KindStorage, "", "receive_chunk", "persist chunk", err)
	}
	ok, err := s.store.RegisterChunk(ctx, u.ID, store.Chunk{Index: index, Size: int64(len(data)), Hash: actual, ReceivedAt: s.now()})
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		// closed between lookup and registration
		return Receipt{}, services.NotFound("upload session", u.ID)
	}

	receipt, err := s.receipt(ctx, u)
	if err != nil {
		return Receipt{}, err
	}
	logging.WithContext(ctx, s.logger).Debug("chunk received",
		logging.Int("chunk_index", index),
		logging.Int("received", len(receipt.Received)),
		logging.Int("remaining", len(receipt.Remaining)),
	)
	return receipt, nil
}

// openSession loads a session that may still accept chunks. Expired and
// cancelled sessions are reported as not found.
func (s *Service) openSession(ctx context.Context, id, operation string) (*store.UploadSession, error) {
	u, err := s.store.GetUploadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, services.NotFound("upload session", id)
	}
	switch u.Status {
	case store.UploadExpired, store.UploadCancelled:
		return nil, services.NotFound("upload session", id)
	case store.UploadCompleted, store.UploadFailed:
		return nil, services.WithFields(
			services.Wrap(services.KindValidation, "", operation, fmt.Sprintf("upload session is %s", u.Status), nil),
			map[string]any{"upload_session_id": id, "status": string(u.Status)},
		)
	}
	if !s.now().Before(u.ExpiresAt) {
		s.expire(ctx, u)
		return nil, services.NotFound("upload session", id)
	}
	return u, nil
}

func (s *Service) receipt(ctx context.Context, u *store.UploadSession) (Receipt, error) {
	received, err := s.store.ReceivedChunks(ctx, u.ID)
	if err != nil {
		return Receipt{}, err
	}
	status := u.Status
	if status == store.UploadInitiated && len(received) > 0 {
		status = store.UploadInProgress
	}
	return Receipt{Status: status, Received: received, Remaining: missing(received, u.TotalChunks)}, nil
}

func missing(received []int, total int) []int {
	have := make([]bool, total)
	for _, idx := range received {
		if idx >= 0 && idx < total {
			have[idx] = true
		}
	}
	out := make([]int, 0, total-len(received))
	for i, ok := range have {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

func writeAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
