package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/video"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	history []Status
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]*Record{}}
}

func (s *memoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (s *memoryStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stampRecord(record, time.Now().UTC(), time.Minute)
	copied := *record
	s.records[record.JobID] = &copied
	s.history = append(s.history, record.Status)
	return nil
}

func (s *memoryStore) update(jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	mutate(r)
	s.history = append(s.history, r.Status)
	return nil
}

func (s *memoryStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.update(jobID, func(r *Record) { r.Progress = progress })
}

func (s *memoryStore) MarkDone(ctx context.Context, jobID string, downloadURL string, meta *ResultMeta) error {
	return s.update(jobID, func(r *Record) { markDone(r, downloadURL, meta) })
}

func (s *memoryStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(jobID, func(r *Record) { markFailed(r, errInfo) })
}

type runnerFunc func(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error)

func (f runnerFunc) RunJob(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error) {
	return f(ctx, jobID, reporter)
}

func newTestManager(cfg *config.Config, runner Runner, store RecordStore) *Manager {
	return &Manager{cfg: cfg, runner: runner, store: store, logger: zerolog.Nop()}
}

func TestProcessMarksJobDone(t *testing.T) {
	store := newMemoryStore()
	runner := runnerFunc(func(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error) {
		reporter("encode", 40)
		return &video.JobResult{JobID: jobID, OutputFilename: "processed_1.mp4", OutputSize: 42, ContentType: "video/mp4"}, nil
	})
	m := newTestManager(&config.Config{}, runner, store)

	if err := m.process(context.Background(), &TaskPayload{JobID: "job-1", Operation: video.OperationTranscode}); err != nil {
		t.Fatalf("process: %v", err)
	}
	record, _ := store.Get(context.Background(), "job-1")
	if record.Status != StatusSucceeded || record.Progress.Percent != 100 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.DownloadURL != "/api/jobs/job-1/download" {
		t.Fatalf("unexpected download url: %s", record.DownloadURL)
	}
	if record.Meta == nil || record.Meta.Filename != "processed_1.mp4" || record.Meta.Size != 42 {
		t.Fatalf("unexpected meta: %+v", record.Meta)
	}
}

func TestProcessRecordsFailure(t *testing.T) {
	store := newMemoryStore()
	runner := runnerFunc(func(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error) {
		return nil, apperr.Upstream("No video stream found in the file", errors.New("ffprobe"))
	})
	m := newTestManager(&config.Config{}, runner, store)

	err := m.process(context.Background(), &TaskPayload{JobID: "job-2", Operation: video.OperationTranscode})
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	record, _ := store.Get(context.Background(), "job-2")
	if record.Status != StatusFailed || record.Error == nil {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Error.Code != apperr.CodeUpstreamFailed || record.Error.Message != "No video stream found in the file" {
		t.Fatalf("unexpected error info: %+v", record.Error)
	}
}

func TestProcessHidesInternalErrors(t *testing.T) {
	store := newMemoryStore()
	runner := runnerFunc(func(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error) {
		return nil, errors.New("open /tmp/secret/path: permission denied")
	})
	m := newTestManager(&config.Config{}, runner, store)

	_ = m.process(context.Background(), &TaskPayload{JobID: "job-3"})
	record, _ := store.Get(context.Background(), "job-3")
	if record.Error.Code != apperr.CodeInternal || record.Error.Message != "An internal server error occurred." {
		t.Fatalf("unexpected error info: %+v", record.Error)
	}
}

func TestProcessRequiresJobID(t *testing.T) {
	m := newTestManager(&config.Config{}, runnerFunc(nil), newMemoryStore())
	if err := m.process(context.Background(), &TaskPayload{}); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestBuildDownloadURLWithBase(t *testing.T) {
	m := newTestManager(&config.Config{JobResultBaseURL: "https://files.example.com/results/"}, nil, nil)
	got := m.buildDownloadURL(&video.JobResult{JobID: "abc", OutputFilename: "my clip.mp4"})
	if got != "https://files.example.com/results/abc/my%20clip.mp4" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestStampRecordSetsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	record := &Record{JobID: "x"}
	stampRecord(record, now, 10*time.Minute)
	if !record.CreatedAt.Equal(now) || !record.ExpiresAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected timestamps: %+v", record)
	}
}
