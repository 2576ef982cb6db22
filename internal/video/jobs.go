package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/workspace"
)

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op Operation, jobID string) error
}

// JobResult は非同期ジョブの成果物です。
type JobResult struct {
	JobID          string    `json:"jobId"`
	Operation      Operation `json:"operation"`
	OutputPath     string    `json:"-"`
	OutputFilename string    `json:"outputFilename"`
	OutputSize     int64     `json:"outputSize"`
	ContentType    string    `json:"contentType"`
}

// PrepareJob はステージ済みの入力と manifest をワークスペースに残します。
// 所有権の移譲（HandOff）は投入に成功した呼び出し側が行います。
func (s *Service) PrepareJob(ws *workspace.Workspace, op Operation, input *workspace.UploadedFile, opts Options) (*JobManifest, error) {
	if _, ok := operationOutput[op]; !ok {
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
	manifest := &JobManifest{
		JobID:     ws.ID,
		Operation: op,
		Input: JobFile{
			StoredName:   filepath.Base(input.Path),
			OriginalName: input.Name,
			Size:         input.Size,
		},
		Options:   opts,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		return nil, apperr.Internal("Failed to prepare the job.", err)
	}
	return manifest, nil
}

// RunJob はジョブIDに対応する動画処理を実行します。失敗時はワークスペースを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*JobResult, error) {
	ws, err := s.workspaces.Open(jobID)
	if err != nil {
		return nil, fmt.Errorf("job workspace not found: %w", err)
	}
	manifest, err := loadManifest(ws.Dir)
	if err != nil {
		ws.Cleanup()
		return nil, err
	}
	out, ok := operationOutput[manifest.Operation]
	if !ok {
		ws.Cleanup()
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	input := filepath.Join(ws.Dir, manifest.Input.StoredName)
	output, err := ws.Path(out.stored)
	if err != nil {
		ws.Cleanup()
		return nil, err
	}

	switch manifest.Operation {
	case OperationTranscode:
		err = s.Transcode(ctx, input, output, manifest.Options, reporter)
	case OperationExtractAudio:
		err = s.ExtractAudio(ctx, input, output, reporter)
	}
	if err != nil {
		ws.Cleanup()
		return nil, MapError(err)
	}

	info, err := os.Stat(output)
	if err != nil {
		ws.Cleanup()
		return nil, err
	}
	if err := ws.MarkDone(); err != nil {
		ws.Cleanup()
		return nil, err
	}
	return &JobResult{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     output,
		OutputFilename: downloadName(manifest.Operation, manifest.CreatedAt),
		OutputSize:     info.Size(),
		ContentType:    out.contentType,
	}, nil
}

// OpenResult は完了済みジョブの成果物情報を返します。成果物が無い場合は fs.ErrNotExist を返します。
func (s *Service) OpenResult(jobID string) (*JobResult, error) {
	ws, err := s.workspaces.Open(jobID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", os.ErrNotExist, err)
	}
	manifest, err := loadManifest(ws.Dir)
	if err != nil {
		return nil, err
	}
	out, ok := operationOutput[manifest.Operation]
	if !ok {
		return nil, fmt.Errorf("unsupported operation for result download: %s", manifest.Operation)
	}
	path := filepath.Join(ws.Dir, out.stored)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &JobResult{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     path,
		OutputFilename: downloadName(manifest.Operation, manifest.CreatedAt),
		OutputSize:     info.Size(),
		ContentType:    out.contentType,
	}, nil
}

// DiscardJob はジョブのワークスペースを削除します。
func (s *Service) DiscardJob(jobID string) error {
	ws, err := s.workspaces.Open(jobID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	ws.Cleanup()
	return nil
}

// MapError は動画処理のエラーを利用者向けのエラーに変換します。
func MapError(err error) error {
	var appErr *apperr.Error
	var transcodeErr *TranscodeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, ErrNoVideoStream):
		return apperr.Upstream("No video stream found in the file", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Upstream("Video processing took too long. Please try a shorter video or a lower quality setting.", err)
	case errors.As(err, &transcodeErr):
		return apperr.Upstream("Error processing video. Please try a different quality setting or video format.", err)
	default:
		return apperr.Upstream("Error processing video", err)
	}
}
