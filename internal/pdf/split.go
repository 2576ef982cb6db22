package pdf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/file-forge/internal/apperr"
)

// Split は splitPage ページ目の後ろで2つに分割し、part1.pdf と part2.pdf を outZip にまとめます。
// 分割したPDFは outZip と同じディレクトリに書き出されます。
func (s *Service) Split(ctx context.Context, src Source, splitPage int, outZip string) (*SplitMeta, error) {
	pages, err := pdfapi.PageCountFile(src.Path)
	if err != nil {
		return nil, mapError(err, "Failed to split PDF")
	}
	ranges, err := splitRanges(splitPage, pages)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, apperr.Internal("Failed to split PDF", err)
	}
	meta := &SplitMeta{
		Original: SourceFileMeta{Name: src.Name, Size: info.Size(), Pages: pages},
		Ranges:   ranges,
		Parts:    make([]SplitPart, 0, len(ranges)),
	}

	dir := filepath.Dir(outZip)
	partPaths := make([]string, 0, len(ranges))
	for i, pr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		partName := fmt.Sprintf("part%d.pdf", i+1)
		partPath := filepath.Join(dir, partName)
		if err := pdfapi.CollectFile(src.Path, partPath, buildPageSelection(pr), newConfiguration()); err != nil {
			s.logger.Error().Err(err).Int("part", i+1).Msg("split failed")
			return nil, mapError(err, "Failed to split PDF")
		}
		partInfo, err := os.Stat(partPath)
		if err != nil {
			return nil, apperr.Internal("Failed to split PDF", err)
		}
		meta.Parts = append(meta.Parts, SplitPart{
			Filename: partName,
			FromPage: pr.Start,
			ToPage:   pr.End,
			Pages:    pr.End - pr.Start + 1,
			Size:     partInfo.Size(),
		})
		partPaths = append(partPaths, partPath)
	}

	if err := createZip(outZip, partPaths); err != nil {
		return nil, apperr.Internal("Failed to split PDF", err)
	}
	s.logger.Info().Int("pages", pages).Int("splitPage", splitPage).Msg("pdf split")
	return meta, nil
}

// splitRanges は 1..n と n+1..pageCount の2範囲を返します。
func splitRanges(splitPage, pageCount int) ([]PageRange, error) {
	if splitPage < 1 {
		return nil, apperr.InvalidInput("Please specify a valid page number to split at")
	}
	if pageCount < 2 {
		return nil, apperr.InvalidInput("The PDF must have at least 2 pages to be split")
	}
	if splitPage >= pageCount {
		return nil, apperr.InvalidInput(fmt.Sprintf("Split page must be less than the total number of pages (%d)", pageCount))
	}
	return []PageRange{
		{Start: 1, End: splitPage},
		{Start: splitPage + 1, End: pageCount},
	}, nil
}

func buildPageSelection(pr PageRange) []string {
	pages := make([]string, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

// createZip は files を渡された順に outputPath へ格納します。
func createZip(outputPath string, files []string) (err error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		if closeErr := outFile.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	zipWriter := zip.NewWriter(outFile)
	for _, path := range files {
		if err := addZipEntry(zipWriter, path); err != nil {
			zipWriter.Close()
			return err
		}
	}
	return zipWriter.Close()
}

func addZipEntry(zipWriter *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return nil
}
