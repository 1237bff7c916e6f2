package api

import (
	"strings"
	"testing"

	"triad/internal/services"
)

func validStatement() StatementRequest {
	return StatementRequest{Filename: "a.mp4", ContentType: "video/mp4", Size: 10, Duration: 4.5}
}

func TestValidateAcceptsWellFormedMergeRequest(t *testing.T) {
	req := InitiateMergeRequest{
		OwnerID:    "owner",
		Statements: []StatementRequest{validStatement(), validStatement(), validStatement()},
	}
	if err := Validate(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReportsJSONFieldPath(t *testing.T) {
	bad := validStatement()
	bad.Size = 0
	req := InitiateMergeRequest{
		OwnerID:    "owner",
		Statements: []StatementRequest{validStatement(), bad, validStatement()},
	}
	err := Validate(req)
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := services.Describe(err).Fields
	if fields["field"] != "statements[1].size" || fields["rule"] != "required" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestValidateRequiresExactlyThreeStatements(t *testing.T) {
	req := InitiateMergeRequest{OwnerID: "owner", Statements: []StatementRequest{validStatement()}}
	err := Validate(req)
	if err == nil || !strings.Contains(services.Describe(err).Message, "exactly 3") {
		t.Fatalf("expected count error, got %v", err)
	}
}

func TestValidateRejectsMalformedHash(t *testing.T) {
	if err := Validate(CompleteUploadRequest{SHA256: "abc"}); err == nil {
		t.Fatal("expected short hash to fail")
	}
	if err := Validate(CompleteUploadRequest{SHA256: strings.Repeat("z", 64)}); err == nil {
		t.Fatal("expected non-hex hash to fail")
	}
	if err := Validate(CompleteUploadRequest{SHA256: strings.Repeat("a", 64)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	var empty CompleteUploadRequest
	if err := DecodeJSON(strings.NewReader(""), &empty, 1024, true); err != nil {
		t.Fatalf("empty body should be allowed: %v", err)
	}
	var req InitiateUploadRequest
	if err := DecodeJSON(strings.NewReader(`{"ownerId":"o","bogus":1}`), &req, 1024, false); services.KindOf(err) != services.KindValidation {
		t.Fatalf("unknown fields must be rejected, got %v", err)
	}
	body := `{"ownerId":"o","filename":"x.mp4","contentType":"video/mp4","size":5,"duration":2}`
	if err := DecodeJSON(strings.NewReader(body), &req, 1024, false); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Filename != "x.mp4" || req.Size != 5 {
		t.Fatalf("embedded statement fields not decoded: %+v", req)
	}
}
