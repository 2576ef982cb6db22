package pdf

import (
	"errors"
	"strings"

	"github.com/yourusername/file-forge/internal/apperr"
)

// SourceFileMeta は入力PDFの情報です。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Ranges   []PageRange    `json:"ranges"`
	Parts    []SplitPart    `json:"parts"`
}

// PageRange はページ範囲を表します（Start/Endは1-based, End>=Start）。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

const msgPasswordProtected = "The PDF file appears to be encrypted or password protected. Please provide an unprotected PDF."

// mapError は pdfcpu のエラーを利用者向けのエラーに変換します。
// 暗号化や破損で処理できないPDFは処理失敗（500）として扱います。
func mapError(err error, fallback string) *apperr.Error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "password") || strings.Contains(lower, "encrypt") {
		return apperr.Upstream(msgPasswordProtected, err).In("pdf")
	}
	return apperr.Upstream(fallback, err).In("pdf")
}
