// Package pdf は pdfcpu を使ったPDFの結合・分割を提供します。
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
)

const mergedFilename = "merged.pdf"

// Source は処理対象のPDFファイルです。
type Source struct {
	Name string // 元のファイル名
	Path string
}

// Service はPDF処理を提供します。
type Service struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewService は Service を作成します。
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "pdf").Logger(),
		now:    time.Now,
	}
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount はPDFのページ数を返します。
func (s *Service) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, mapError(err, "Failed to read PDF")
	}
	return pages, nil
}

// Merge は sources を順番通りに結合して output に書き出します。
func (s *Service) Merge(ctx context.Context, sources []Source, output string) (*MergeMeta, error) {
	if len(sources) < 2 {
		return nil, apperr.InvalidInput("Please select at least 2 PDF files to merge")
	}

	meta := &MergeMeta{Sources: make([]SourceFileMeta, 0, len(sources))}
	inputs := make([]string, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages, err := pdfapi.PageCountFile(src.Path)
		if err != nil {
			return nil, mapError(err, "Failed to merge PDFs").WithDetails(fmt.Sprintf("%s could not be read", filepath.Base(src.Name)))
		}
		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, apperr.Internal("Failed to merge PDFs", err)
		}
		inputs[i] = src.Path
		meta.TotalPages += pages
		meta.Sources = append(meta.Sources, SourceFileMeta{Name: src.Name, Size: info.Size(), Pages: pages})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := s.now()
	if err := pdfapi.MergeCreateFile(inputs, output, false, newConfiguration()); err != nil {
		s.logger.Error().Err(err).Int("files", len(inputs)).Msg("merge failed")
		return nil, mapError(err, "Failed to merge PDFs")
	}
	s.logger.Info().
		Int("files", len(inputs)).
		Int("pages", meta.TotalPages).
		Dur("elapsed", s.now().Sub(started)).
		Msg("pdf merged")
	return meta, nil
}
