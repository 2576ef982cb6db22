package pdf

import (
	"context"
	"os"

	"github.com/yourusername/file-forge/internal/apperr"
)

// InspectResult はアップロードされたPDFの基本メタデータを表します。
type InspectResult struct {
	Source SourceFileMeta `json:"source"`
}

// Inspect はPDFのページ数とサイズを返します。分割位置の選択に使います。
func (s *Service) Inspect(ctx context.Context, src Source) (*InspectResult, error) {
	pages, err := s.PageCount(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, apperr.Internal("Failed to read PDF", err)
	}
	return &InspectResult{
		Source: SourceFileMeta{Name: src.Name, Size: info.Size(), Pages: pages},
	}, nil
}
