// Package video は ffmpeg を使った動画の再エンコードと音声抽出を提供します。
package video

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/workspace"
)

// Options は再エンコードの要求パラメータです。
type Options struct {
	TargetHeight int    `json:"targetHeight"`
	FPS          int    `json:"fps"`
	Bitrate      string `json:"bitrate"`
}

// TranscodeError はラダーの全段が失敗したことを表します。Err は最後の段のエラーです。
type TranscodeError struct {
	Attempts int
	Err      error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("video processing failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// Service は動画処理を提供します。
type Service struct {
	prober     Prober
	encoder    Encoder
	ladder     []Preset
	workspaces *workspace.Manager
	logger     zerolog.Logger
}

// NewService は Service を作成します。ladder が空の場合は DefaultLadder を使います。
func NewService(prober Prober, encoder Encoder, ladder []Preset, workspaces *workspace.Manager, logger zerolog.Logger) *Service {
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	return &Service{
		prober:     prober,
		encoder:    encoder,
		ladder:     ladder,
		workspaces: workspaces,
		logger:     logger.With().Str("component", "video").Logger(),
	}
}

// Transcode は input を MP4 に再エンコードします。
// ラダーの各段を順に試し、最初に成功した段で終了します。
func (s *Service) Transcode(ctx context.Context, input, output string, opts Options, reporter ProgressReporter) error {
	reportProgress(reporter, "probe", 5)
	src, err := s.prober.Probe(ctx, input)
	if err != nil {
		return err
	}

	var lastErr error
	for i, preset := range s.ladder {
		if err := ctx.Err(); err != nil {
			return err
		}
		reportProgress(reporter, "encode", 10+i*80/len(s.ladder))

		if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", output).Msg("partial output could not be removed")
		}

		plan := preset.Plan(src, opts)
		log := s.logger.With().
			Int("attempt", i+1).
			Str("preset", preset.Name).
			Str("size", fmt.Sprintf("%dx%d", plan.Width, plan.Height)).
			Str("bitrate", plan.Bitrate).
			Logger()

		lastErr = s.encoder.Run(ctx, preset.Args(input, output, plan))
		if lastErr == nil {
			log.Info().Msg("video encoded")
			reportProgress(reporter, "write", 100)
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		log.Warn().Err(lastErr).Msg("encode attempt failed")
	}
	return &TranscodeError{Attempts: len(s.ladder), Err: lastErr}
}

// ExtractAudio は音声ストリームだけを MP3 として書き出します。
func (s *Service) ExtractAudio(ctx context.Context, input, output string, reporter ProgressReporter) error {
	reportProgress(reporter, "encode", 10)
	args := []string{
		"-y",
		"-i", input,
		"-map", "a",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-q:a", "0",
		"-f", "mp3",
		output,
	}
	if err := s.encoder.Run(ctx, args); err != nil {
		s.logger.Warn().Err(err).Msg("audio extraction failed")
		return err
	}
	reportProgress(reporter, "write", 100)
	return nil
}
