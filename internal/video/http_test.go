package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/testutil"
)

type stubScheduler struct {
	ops []Operation
	ids []string
	err error
}

func (s *stubScheduler) Schedule(ctx context.Context, op Operation, jobID string) error {
	s.ops = append(s.ops, op)
	s.ids = append(s.ids, jobID)
	return s.err
}

func videoRequest(t *testing.T, target string, fields []testutil.Field, contentType string) *http.Request {
	t.Helper()
	return testutil.MultipartRequest(t, target, fields, []testutil.Part{{
		Field:       "video",
		Filename:    "clip.mov",
		ContentType: contentType,
		Data:        []byte("fake-video-bytes"),
	}})
}

func TestProcessVideoHandlerSync(t *testing.T) {
	encoder := &stubEncoder{}
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{info: StreamInfo{Width: 1920, Height: 1080}}, encoder, nil, wsm, zerolog.Nop())
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20})

	req := videoRequest(t, "/api/video/process-video", []testutil.Field{{Name: "quality", Value: "480"}}, "video/quicktime")
	rec := testutil.Serve(handler, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("unexpected Content-Type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="processed_`) {
		t.Fatalf("unexpected Content-Disposition: %s", cd)
	}
	args := strings.Join(encoder.calls[0], " ")
	if !strings.Contains(args, "-s 854x480") || !strings.Contains(args, "-r 30") || !strings.Contains(args, "-b:v 1M") {
		t.Fatalf("unexpected args: %s", args)
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestProcessVideoHandlerRejectsNonVideo(t *testing.T) {
	encoder := &stubEncoder{}
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{}, encoder, nil, wsm, zerolog.Nop())
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/process-video", nil, "image/png"))

	var payload map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if rec.Code != http.StatusBadRequest || payload["error"] != "Invalid file format. Please upload a valid video file." {
		t.Fatalf("unexpected response: %d %#v", rec.Code, payload)
	}
	if len(encoder.calls) != 0 {
		t.Fatalf("encoder must not run")
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestProcessVideoHandlerRejectsBadQuality(t *testing.T) {
	svc := NewService(&stubProber{}, &stubEncoder{}, nil, testutil.NewWorkspaceManager(t), zerolog.Nop())
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/process-video", []testutil.Field{{Name: "quality", Value: "high"}}, "video/mp4"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestProcessVideoHandlerReportsLadderFailure(t *testing.T) {
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{info: StreamInfo{Width: 1280, Height: 720}}, &stubEncoder{failures: 4}, nil, wsm, zerolog.Nop())
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/process-video", nil, "video/mp4"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "encode failure") {
		t.Fatalf("raw encoder output must not leak: %s", rec.Body.String())
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestExtractAudioHandler(t *testing.T) {
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{}, &stubEncoder{}, nil, wsm, zerolog.Nop())
	handler := ExtractAudioHandler(svc, HandlerOptions{MaxFileSize: 1 << 20})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/extract-audio", nil, "video/mp4"))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected Content-Type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".mp3") {
		t.Fatalf("unexpected Content-Disposition: %s", cd)
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestProcessVideoHandlerAsyncJob(t *testing.T) {
	encoder := &stubEncoder{}
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{info: StreamInfo{Width: 1280, Height: 720}}, encoder, nil, wsm, zerolog.Nop())
	scheduler := &stubScheduler{}
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20, Scheduler: scheduler, AsyncThresholdBytes: 4})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/process-video", nil, "video/mp4"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	jobID := payload["jobId"]
	if jobID == "" || len(scheduler.ids) != 1 || scheduler.ids[0] != jobID || scheduler.ops[0] != OperationTranscode {
		t.Fatalf("unexpected schedule: %#v %+v", payload, scheduler)
	}
	if len(encoder.calls) != 0 {
		t.Fatalf("encoding must wait for the worker")
	}

	var stages []string
	result, err := svc.RunJob(context.Background(), jobID, func(stage string, percent int) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if result.ContentType != "video/mp4" || !strings.HasPrefix(result.OutputFilename, "processed_") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(stages) == 0 {
		t.Fatalf("progress was not reported")
	}

	opened, err := svc.OpenResult(jobID)
	if err != nil {
		t.Fatalf("OpenResult: %v", err)
	}
	if opened.OutputSize != result.OutputSize {
		t.Fatalf("size mismatch: %d vs %d", opened.OutputSize, result.OutputSize)
	}

	if err := svc.DiscardJob(jobID); err != nil {
		t.Fatalf("DiscardJob: %v", err)
	}
	if _, err := svc.OpenResult(jobID); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist after discard, got %v", err)
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestAsyncScheduleFailureCleansUp(t *testing.T) {
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{}, &stubEncoder{}, nil, wsm, zerolog.Nop())
	handler := ExtractAudioHandler(svc, HandlerOptions{
		MaxFileSize:         1 << 20,
		Scheduler:           &stubScheduler{err: errors.New("redis down")},
		AsyncThresholdBytes: 1,
	})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/extract-audio", nil, "video/mp4"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d entries", n)
	}
}

func TestRunJobFailureRemovesWorkspace(t *testing.T) {
	wsm := testutil.NewWorkspaceManager(t)
	svc := NewService(&stubProber{info: StreamInfo{Width: 1280, Height: 720}}, &stubEncoder{failures: 4}, nil, wsm, zerolog.Nop())
	handler := ProcessVideoHandler(svc, HandlerOptions{MaxFileSize: 1 << 20, Scheduler: &stubScheduler{}, AsyncThresholdBytes: 1})

	rec := testutil.Serve(handler, videoRequest(t, "/api/video/process-video", nil, "video/mp4"))
	var payload map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)

	if _, err := svc.RunJob(context.Background(), payload["jobId"], nil); err == nil {
		t.Fatalf("expected RunJob to fail")
	}
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected workspace removal, found %d entries", n)
	}
}
