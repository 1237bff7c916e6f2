package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"triad/internal/api"
	"triad/internal/coordinator"
	"triad/internal/daemon"
	"triad/internal/monitor"
	"triad/internal/pipeline"
	"triad/internal/publisher"
	"triad/internal/queue"
	"triad/internal/testsupport"
	"triad/internal/upload"
	"triad/internal/workflow"
)

type harness struct {
	daemon *daemon.Daemon
	server *httptest.Server
	token  string
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithChunkKiB(64)}, opts...)...)
	st := testsupport.MustOpenStore(t, cfg)
	uploads, err := upload.NewService(cfg, st, nil)
	if err != nil {
		t.Fatalf("upload service: %v", err)
	}
	objects, err := publisher.NewFilesystemStore(cfg)
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	pub := publisher.NewService(cfg, objects, st, nil)
	fake := testsupport.NewFakeProcessor()
	gov := queue.NewGovernor(cfg.Queue.CompressionSlots)
	mgr := workflow.NewManager(cfg, st, queue.New(), gov, nil)
	if err := mgr.ConfigureStages(pipeline.NewStageSet(cfg, pipeline.Deps{
		Processor: fake, Encoder: fake, Slots: gov, Publisher: pub,
	}, nil)); err != nil {
		t.Fatalf("configure stages: %v", err)
	}
	coord, err := coordinator.New(cfg, st, uploads, mgr, nil, nil)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	mon := monitor.New(cfg, st, nil, nil)
	uploads.SetListener(coord)
	mgr.SetResultHandler(coord)
	mgr.SetRecorder(mon)

	d, err := daemon.New(cfg, daemon.Services{
		Store:       st,
		Uploads:     uploads,
		Coordinator: coord,
		Workflow:    mgr,
		Monitor:     mon,
		Publisher:   pub,
	}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		d.Stop()
	})
	return &harness{daemon: d, server: srv, token: cfg.API.Token}
}

func (h *harness) do(t *testing.T, method, path string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if h.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) doJSON(t *testing.T, method, path string, in any, wantStatus int, out any) {
	t.Helper()
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	resp := h.do(t, method, path, body, http.Header{"Content-Type": {"application/json"}})
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
}

// localPath strips the public base URL so the request hits the test server.
func localPath(t *testing.T, u string) string {
	t.Helper()
	_, rest, ok := strings.Cut(u, "http://triad.test")
	if !ok {
		t.Fatalf("unexpected url %q", u)
	}
	return rest
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status := h.daemon.Status(ctx)
	if !status.Running || status.StorageBackend != "filesystem" {
		t.Fatalf("unexpected status %+v", status)
	}
	if !strings.HasSuffix(status.LockFilePath, "triadd.lock") {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}
	if err := h.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	h.daemon.Stop()
	if h.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestMergeSessionOverHTTP(t *testing.T) {
	h := newHarness(t)
	durations := []float64{9.5, 11, 7.25}
	data := make([][]byte, len(durations))
	req := api.InitiateMergeRequest{OwnerID: "owner-7", Title: "lies"}
	for i, d := range durations {
		data[i] = testsupport.FakeStatement(d, 150<<10)
		req.Statements = append(req.Statements, api.StatementRequest{
			Filename:    fmt.Sprintf("s%d.mp4", i),
			ContentType: "video/mp4",
			Size:        int64(len(data[i])),
			Duration:    d,
		})
	}

	var created api.MergeSessionCreated
	h.doJSON(t, http.MethodPost, "/api/merge-sessions", req, http.StatusCreated, &created)
	if len(created.Uploads) != 3 || created.Status != "uploading" {
		t.Fatalf("unexpected create response %+v", created)
	}

	for i := len(created.Uploads) - 1; i >= 0; i-- {
		u := created.Uploads[i]
		for idx := u.TotalChunks - 1; idx >= 0; idx-- {
			start := int64(idx) * u.ChunkSize
			end := min(start+u.ChunkSize, u.TotalSize)
			chunk := data[i][start:end]
			path := localPath(t, strings.Replace(u.ChunkURLTemplate, "{index}", fmt.Sprint(idx), 1))
			resp := h.do(t, http.MethodPut, path, chunk, http.Header{"X-Chunk-Sha256": {testsupport.SHA256Hex(chunk)}})
			if resp.StatusCode != http.StatusOK {
				raw, _ := io.ReadAll(resp.Body)
				t.Fatalf("chunk %d of statement %d: %d %s", idx, i, resp.StatusCode, raw)
			}
		}
		var done api.UploadSession
		h.doJSON(t, http.MethodPost, localPath(t, u.CompleteURL),
			api.CompleteUploadRequest{SHA256: testsupport.SHA256Hex(data[i])}, http.StatusOK, &done)
		if done.Status != "completed" {
			t.Fatalf("statement %d status %s", i, done.Status)
		}
	}

	var status api.MergeSessionStatus
	deadline := time.Now().Add(10 * time.Second)
	for {
		h.doJSON(t, http.MethodGet, localPath(t, created.StatusURL), nil, http.StatusOK, &status)
		if status.Status == "completed" || status.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("merge did not finish: %+v", status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status.Status != "completed" || status.Percent != 100 {
		t.Fatalf("merge ended %+v", status)
	}

	var segs api.ArtifactSegments
	h.doJSON(t, http.MethodGet, localPath(t, status.SegmentsURL)+"?ttl_seconds=60", nil, http.StatusOK, &segs)
	if len(segs.Segments) != 3 || !segs.SupportsRange {
		t.Fatalf("unexpected segments %+v", segs)
	}
	if segs.Segments[1].StartTime != 9.5 || segs.Segments[2].EndTime != 27.75 {
		t.Fatalf("segment boundaries %+v", segs.Segments)
	}

	objectPath := localPath(t, segs.URL)
	resp := h.do(t, http.MethodGet, objectPath, nil, http.Header{"Range": {"bytes=0-15"}})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("range request status %d", resp.StatusCode)
	}
	if body, _ := io.ReadAll(resp.Body); len(body) != 16 {
		t.Fatalf("range body length %d", len(body))
	}

	tampered := strings.Replace(objectPath, "sig=", "sig=00", 1)
	if resp := h.do(t, http.MethodGet, tampered, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("tampered signature status %d", resp.StatusCode)
	}
}

func TestValidationErrorsCarryFieldAndRequestID(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"ownerId":"o","statements":[{"filename":"a.mp4","contentType":"video/mp4","size":10,"duration":1}]}`)
	resp := h.do(t, http.MethodPost, "/api/merge-sessions", body, http.Header{"X-Request-Id": {"req-42"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var payload api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.RequestID != "req-42" || resp.Header.Get("X-Request-ID") != "req-42" {
		t.Fatalf("request id not echoed: %+v", payload)
	}
	if payload.Error.Code != "E_VALIDATION" || payload.Error.Fields["field"] != "statements" {
		t.Fatalf("unexpected error body %+v", payload.Error)
	}
}

func TestChunkErrorsMapToStatusCodes(t *testing.T) {
	h := newHarness(t)
	data := testsupport.FakeStatement(4, 100<<10)
	var u api.UploadSession
	h.doJSON(t, http.MethodPost, "/api/uploads", api.InitiateUploadRequest{
		OwnerID: "owner",
		StatementRequest: api.StatementRequest{
			Filename: "solo.mp4", ContentType: "video/mp4", Size: int64(len(data)), Duration: 4,
		},
	}, http.StatusCreated, &u)
	if u.StatementIndex != nil || u.TotalChunks < 2 {
		t.Fatalf("unexpected standalone upload %+v", u)
	}

	cases := []struct {
		name   string
		path   string
		body   []byte
		header http.Header
		want   int
	}{
		{"index out of range", fmt.Sprintf("/api/uploads/%s/chunks/%d", u.ID, u.TotalChunks), data[:u.ChunkSize], nil, http.StatusBadRequest},
		{"non numeric index", fmt.Sprintf("/api/uploads/%s/chunks/x", u.ID), data[:u.ChunkSize], nil, http.StatusBadRequest},
		{"hash mismatch", fmt.Sprintf("/api/uploads/%s/chunks/0", u.ID), data[:u.ChunkSize], http.Header{"X-Chunk-Sha256": {strings.Repeat("0", 64)}}, http.StatusUnprocessableEntity},
		{"unknown session", "/api/uploads/missing/chunks/0", data[:u.ChunkSize], nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPut, tc.path, tc.body, tc.header)
			if resp.StatusCode != tc.want {
				raw, _ := io.ReadAll(resp.Body)
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tc.want, raw)
			}
		})
	}

	h.doJSON(t, http.MethodPost, fmt.Sprintf("/api/uploads/%s/complete", u.ID), nil, http.StatusConflict, nil)

	var cancelled api.UploadSession
	h.doJSON(t, http.MethodDelete, "/api/uploads/"+u.ID, nil, http.StatusOK, &cancelled)
	if cancelled.Status != "cancelled" {
		t.Fatalf("status after cancel %s", cancelled.Status)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("s3cret"))

	resp := h.do(t, http.MethodGet, "/api/status", nil, http.Header{"Authorization": {"Bearer wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status %d", resp.StatusCode)
	}

	var status api.DaemonStatus
	h.doJSON(t, http.MethodGet, "/api/status", nil, http.StatusOK, &status)
	if !status.Running || len(status.Workflow.StageHealth) == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	var health monitor.Health
	h.doJSON(t, http.MethodGet, "/api/health", nil, http.StatusOK, &health)
	if health.Status != monitor.StatusOK {
		t.Fatalf("health %+v", health)
	}

	resp = h.do(t, http.MethodGet, "/metrics", nil, nil)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}
