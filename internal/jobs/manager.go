package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/video"
)

const (
	taskTypeMedia = "media:process"
	queueMedia    = "media"
)

// Runner はジョブIDから処理を実行するサービスが実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter video.ProgressReporter) (*video.JobResult, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  RecordStore
	runner Runner
	logger zerolog.Logger
}

// TaskPayload は動画ジョブのペイロードです。
type TaskPayload struct {
	JobID     string          `json:"jobId"`
	Operation video.Operation `json:"operation"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store RecordStore, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	logger = logger.With().Str("component", "jobs").Logger()
	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueMedia: 1,
			},
			Logger: asynqLogger{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeMedia, manager.handleMediaTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeMedia, body, asynq.Queue(queueMedia))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		return "", err
	}
	m.logger.Info().Str("jobId", payload.JobID).Str("operation", string(payload.Operation)).Str("taskId", info.ID).Msg("job enqueued")
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleMediaTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return m.process(ctx, &payload)
}

func (m *Manager) process(ctx context.Context, payload *TaskPayload) error {
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	if err := m.store.Upsert(ctx, &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusRunning,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "load",
		},
	}); err != nil {
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			m.logger.Warn().Err(err).Str("jobId", payload.JobID).Msg("failed to update progress")
		}
	})
	if err != nil {
		m.logger.Error().Err(err).Str("jobId", payload.JobID).Msg("job failed")
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	return m.finishJob(ctx, result)
}

func (m *Manager) finishJob(ctx context.Context, result *video.JobResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	meta := &ResultMeta{
		Filename:    result.OutputFilename,
		Size:        result.OutputSize,
		ContentType: result.ContentType,
	}
	if err := m.store.MarkDone(ctx, result.JobID, m.buildDownloadURL(result), meta); err != nil {
		return err
	}
	m.logger.Info().Str("jobId", result.JobID).Int64("size", result.OutputSize).Msg("job completed")
	return nil
}

// failJobWithError は失敗を記録します。記録できた場合はリトライしません（入力は削除済みのため）。
func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	info := &ErrorInfo{Code: apperr.CodeInternal, Message: "An internal server error occurred."}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		info = &ErrorInfo{Code: appErr.Code, Message: appErr.Message}
	}
	if markErr := m.store.MarkFailed(ctx, jobID, info); markErr != nil {
		return markErr
	}
	return fmt.Errorf("%s: %w", info.Message, asynq.SkipRetry)
}

func (m *Manager) buildDownloadURL(result *video.JobResult) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}

// asynqLogger は asynq のログを zerolog に流します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
