package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"triad/internal/api"
	"triad/internal/config"
	"triad/internal/coordinator"
	"triad/internal/logging"
	"triad/internal/monitor"
	"triad/internal/publisher"
	"triad/internal/services"
	"triad/internal/upload"
)

// jsonBodyLimit caps control-plane request bodies; chunk bodies use
// api.max_chunk_body_mib instead.
const jsonBodyLimit = 1 << 20

type apiServer struct {
	bind     string
	baseURL  string
	chunkMax int64
	logger   *slog.Logger
	daemon   *Daemon
	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.API.Bind),
		baseURL:  strings.TrimRight(cfg.API.PublicBaseURL, "/"),
		chunkMax: int64(cfg.API.MaxChunkBodyMiB) << 20,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
	}

	token := strings.TrimSpace(cfg.API.Token)
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, h))
	}
	route("POST /api/merge-sessions", srv.handleCreateMerge)
	route("GET /api/merge-sessions/{id}", srv.handleMergeStatus)
	route("POST /api/uploads", srv.handleInitiateUpload)
	route("GET /api/uploads/{id}", srv.handleGetUpload)
	route("DELETE /api/uploads/{id}", srv.handleCancelUpload)
	route("PUT /api/uploads/{id}/chunks/{index}", srv.handleChunk)
	route("POST /api/uploads/{id}/chunks/{index}", srv.handleChunk)
	route("POST /api/uploads/{id}/complete", srv.handleComplete)
	route("GET /api/artifacts/{id}/segments", srv.handleSegments)
	route("GET /api/status", srv.handleStatus)
	route("GET /api/health", srv.handleHealth)
	mux.Handle("GET /metrics", authMiddleware(token, d.svc.Monitor.Handler().ServeHTTP))
	// Object URLs carry their own signature.
	mux.HandleFunc("GET /objects/{key...}", srv.handleObject)

	srv.handler = requestIDMiddleware(mux)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleCreateMerge(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateMergeRequest
	if err := api.DecodeJSON(r.Body, &req, jsonBodyLimit, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	statements := make([]upload.Request, len(req.Statements))
	for i, st := range req.Statements {
		statements[i] = uploadRequest(req.OwnerID, st)
	}
	created, err := s.daemon.svc.Coordinator.CreateMergeSession(r.Context(), coordinator.CreateRequest{
		OwnerID:    req.OwnerID,
		Title:      req.Title,
		Statements: statements,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromCreated(created, s.baseURL))
}

func (s *apiServer) handleMergeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.svc.Coordinator.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromMergeStatus(status, s.baseURL))
}

func (s *apiServer) handleInitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateUploadRequest
	if err := api.DecodeJSON(r.Body, &req, jsonBodyLimit, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.daemon.svc.Uploads.Initiate(r.Context(), uploadRequest(req.OwnerID, req.StatementRequest))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromUploadSession(session, s.baseURL))
}

func (s *apiServer) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	session, err := s.daemon.svc.Uploads.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUploadSession(session, s.baseURL))
}

func (s *apiServer) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	session, err := s.daemon.svc.Uploads.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUploadSession(session, s.baseURL))
}

func (s *apiServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, r, services.Wrap(services.KindValidation, "", "receive_chunk", "chunk index must be an integer", err))
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.chunkMax))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{
				Error: api.FromDescriptor(services.Describe(services.WithFields(
					services.Wrap(services.KindValidation, "", "receive_chunk", "chunk body too large", err),
					map[string]any{"limit_bytes": tooLarge.Limit},
				))),
				RequestID: requestID(r),
			})
			return
		}
		s.writeError(w, r, services.Wrap(services.KindValidation, "", "receive_chunk", "read chunk body", err))
		return
	}
	chunkHash := strings.TrimSpace(r.Header.Get("X-Chunk-SHA256"))
	receipt, err := s.daemon.svc.Uploads.ReceiveChunk(r.Context(), id, index, data, chunkHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromReceipt(id, index, receipt))
}

func (s *apiServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteUploadRequest
	if err := api.DecodeJSON(r.Body, &req, jsonBodyLimit, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.daemon.svc.Uploads.Complete(r.Context(), r.PathValue("id"), req.SHA256)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUploadSession(session, s.baseURL))
}

func (s *apiServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	var hint publisher.ClientHint
	if raw := strings.TrimSpace(r.URL.Query().Get("ttl_seconds")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			s.writeError(w, r, services.WithFields(
				services.Wrap(services.KindValidation, "", "segments", "ttl_seconds must be a positive integer", err),
				map[string]any{"field": "ttl_seconds"},
			))
			return
		}
		hint.TTL = time.Duration(seconds) * time.Second
	}
	desc, err := s.daemon.svc.Publisher.GetStreamingDescriptor(r.Context(), r.PathValue("id"), hint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStreamingDescriptor(desc))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	checks := make([]api.CheckResult, len(status.Checks))
	for i, check := range status.Checks {
		checks[i] = api.CheckResult{Name: check.Name, Passed: check.Passed, Detail: check.Detail}
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		DatabasePath:   status.DatabasePath,
		LockFilePath:   status.LockFilePath,
		StorageBackend: status.StorageBackend,
		Workflow:       api.FromStatusSummary(status.Workflow),
		Dependencies:   deps,
		Checks:         checks,
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.svc.Monitor.Snapshot()
	code := http.StatusOK
	if health.Status != monitor.StatusOK {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *apiServer) handleObject(w http.ResponseWriter, r *http.Request) {
	fs, ok := s.daemon.svc.Publisher.Objects().(*publisher.FilesystemStore)
	if !ok {
		s.writeError(w, r, services.NotFound("object", r.PathValue("key")))
		return
	}
	key := r.PathValue("key")
	query := r.URL.Query()
	if err := fs.Verify(key, query.Get("expires"), query.Get("sig")); err != nil {
		s.writeJSON(w, http.StatusForbidden, api.ErrorResponse{
			Error: api.ErrorBody{
				Code:    "E_SIGNATURE",
				Kind:    "forbidden",
				Message: err.Error(),
			},
			RequestID: requestID(r),
		})
		return
	}
	file, info, err := fs.Open(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer file.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func uploadRequest(ownerID string, st api.StatementRequest) upload.Request {
	return upload.Request{
		OwnerID:      ownerID,
		Filename:     st.Filename,
		ContentType:  st.ContentType,
		Size:         st.Size,
		Duration:     st.Duration,
		DeclaredHash: st.SHA256,
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := api.FromError(err)
	payload.RequestID = requestID(r)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorCode, payload.Error.Code),
			logging.Error(err),
		)
	} else {
		logger.Debug("request rejected",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorCode, payload.Error.Code),
		)
	}
	s.writeJSON(w, status, payload)
}

func requestID(r *http.Request) string {
	id, _ := services.RequestIDFromContext(r.Context())
	return id
}

// requestIDMiddleware tags each request with an id, honoring one supplied by
// the client.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
