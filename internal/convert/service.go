// Package convert は外部変換サービスを使ったフォーマット変換とZIP作成を提供します。
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/convertapi"
	"github.com/yourusername/file-forge/internal/formats"
	"github.com/yourusername/file-forge/internal/workspace"
)

// ServiceClient は変換サービスのクライアントが実装します。
type ServiceClient interface {
	Convert(ctx context.Context, req convertapi.Request) (*convertapi.Response, error)
	Save(ctx context.Context, f convertapi.ResultFile, path string) (int64, error)
}

// Result は変換結果のファイルです。
type Result struct {
	FilePath string
	FileSize int64
}

// Service は変換のオーケストレーションを行います。
type Service struct {
	registry *formats.Registry
	client   ServiceClient
	profiles map[Pair]Profile
	logger   zerolog.Logger
}

// NewService は Service を作成します。profiles が nil の場合は DefaultProfiles を使います。
func NewService(registry *formats.Registry, client ServiceClient, profiles map[Pair]Profile, logger zerolog.Logger) *Service {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Service{
		registry: registry,
		client:   client,
		profiles: profiles,
		logger:   logger.With().Str("component", "convert").Logger(),
	}
}

// Registry は注入されたフォーマット表を返します。
func (s *Service) Registry() *formats.Registry { return s.registry }

// ValidateFormats は変換元/変換先のタグと組み合わせを検証します。
func (s *Service) ValidateFormats(from, to string) error {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return apperr.InvalidInput("From and To formats are required")
	}
	if !s.registry.IsFormatSupported(from) {
		return apperr.UnsupportedFormat(fmt.Sprintf("Unsupported input format: %s", from))
	}
	// 変換先が表に無いタグでも、変換元が有効なら組み合わせとして拒否する
	if !s.registry.IsConversionSupported(from, to) {
		return apperr.UnsupportedFormat(fmt.Sprintf("Conversion from %s to %s is not supported", from, to))
	}
	if !s.registry.IsFormatSupported(to) {
		return apperr.UnsupportedFormat(fmt.Sprintf("Unsupported output format: %s", to))
	}
	return nil
}

// Convert は inputPath を変換して outputPath に保存します。
func (s *Service) Convert(ctx context.Context, inputPath, outputPath, from, to string) (*Result, error) {
	fromCode, err := s.registry.ServiceCode(from)
	if err != nil {
		return nil, apperr.UnsupportedFormat(fmt.Sprintf("Unsupported input format: %s", from))
	}
	toCode, err := s.registry.ServiceCode(to)
	if err != nil {
		return nil, apperr.UnsupportedFormat(fmt.Sprintf("Unsupported output format: %s", to))
	}

	req := convertapi.Request{
		From:  fromCode,
		To:    toCode,
		Files: []convertapi.Upload{{Path: inputPath}},
	}
	logEvent := s.logger.Info().Str("from", fromCode).Str("to", toCode)
	if profile, ok := s.profiles[NewPair(from, to)]; ok {
		req.Params = profile.Params
		logEvent = logEvent.Str("profile", profile.Name)
	}
	logEvent.Msg("starting conversion")

	resp, err := s.client.Convert(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("from", fromCode).Str("to", toCode).Msg("conversion service error")
		return nil, remapError(err)
	}
	if len(resp.Files) > 1 {
		s.logger.Debug().Int("files", len(resp.Files)).Msg("conversion returned multiple files, keeping the first")
	}

	size, err := s.client.Save(ctx, resp.Files[0], outputPath)
	if err != nil {
		s.logger.Error().Err(err).Str("output", outputPath).Msg("failed to save conversion result")
		return nil, remapError(err)
	}
	s.logger.Info().Int64("size", size).Msg("conversion completed")
	return &Result{FilePath: outputPath, FileSize: size}, nil
}

// CreateZipArchive は複数ファイルを変換サービスでZIPにまとめます。
func (s *Service) CreateZipArchive(ctx context.Context, files []*workspace.UploadedFile, outputPath string) (*Result, error) {
	if len(files) < 2 {
		return nil, apperr.InvalidInput("At least two files are required for ZIP archive creation")
	}
	fromCode, err := s.registry.ServiceCode(formats.ArchiveSource)
	if err != nil {
		return nil, apperr.Internal("Archive format is not registered.", err)
	}
	toCode, err := s.registry.ServiceCode("ZIP")
	if err != nil {
		return nil, apperr.Internal("Archive format is not registered.", err)
	}

	uploads := make([]convertapi.Upload, len(files))
	for i, f := range files {
		uploads[i] = convertapi.Upload{Name: f.Name, Path: f.Path}
	}

	resp, err := s.client.Convert(ctx, convertapi.Request{From: fromCode, To: toCode, Files: uploads})
	if err == nil {
		var size int64
		size, err = s.client.Save(ctx, resp.Files[0], outputPath)
		if err == nil {
			s.logger.Info().Int("files", len(files)).Int64("size", size).Msg("archive created")
			return &Result{FilePath: outputPath, FileSize: size}, nil
		}
	}

	s.logger.Error().Err(err).Msg("zip creation error")
	remapped := remapError(err)
	var appErr *apperr.Error
	if errors.As(remapped, &appErr) && appErr.Kind == apperr.KindUpstream {
		return nil, apperr.Upstream("Failed to create ZIP archive", err)
	}
	return nil, remapped
}

const (
	msgPasswordProtected = "The PDF file appears to be encrypted or password protected. Please provide an unprotected PDF."
	msgUnreadablePDF     = "Unable to read the PDF content. The file might be corrupted or contain unsupported content."
	msgInvalidParams     = "Invalid conversion parameters. Please try with a simpler PDF file."
	msgTooComplex        = "The PDF file might be too complex or contain unsupported elements."
	msgTimeout           = "The conversion took too long. Please try with a smaller or simpler file."
	msgGenericFailure    = "Conversion failed. Please verify the file and try again."
)

// remapError は変換サービスのエラーを利用者向けのメッセージに置き換えます。
func remapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, convertapi.ErrMissingSecret) {
		return apperr.UpstreamAuth("The conversion service is not configured.", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Upstream(msgTimeout, err)
	}

	var apiErr *convertapi.APIError
	if errors.As(err, &apiErr) {
		message := strings.ToLower(apiErr.Message)
		switch apiErr.Status {
		case 401, 403:
			return apperr.UpstreamAuth("The conversion service rejected the API credentials.", err)
		case 402:
			return apperr.QuotaExceeded("The conversion service quota has been exceeded.", err)
		}
		switch apiErr.Code {
		case 5001:
			if strings.Contains(message, "password") {
				return apperr.Upstream(msgPasswordProtected, err)
			}
			return apperr.Upstream(msgUnreadablePDF, err)
		case 4000:
			return apperr.Upstream(msgInvalidParams, err)
		case 4001:
			return apperr.Upstream(msgTooComplex, err)
		}
		if strings.Contains(message, "timeout") {
			return apperr.Upstream(msgTimeout, err)
		}
		return apperr.Upstream(msgGenericFailure, err)
	}

	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return apperr.Upstream(msgTimeout, err)
	}
	return apperr.Upstream(msgGenericFailure, err)
}
