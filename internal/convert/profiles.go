package convert

import (
	"encoding/json"

	"github.com/yourusername/file-forge/internal/formats"
)

// Pair は (変換元, 変換先) のタグの組です。
type Pair struct {
	From string
	To   string
}

// NewPair はタグを正規化した Pair を返します。
func NewPair(from, to string) Pair {
	return Pair{From: formats.Normalize(from), To: formats.Normalize(to)}
}

// Profile は特定の変換ペアで変換サービスへ追加送信するパラメータです。
type Profile struct {
	Name   string
	Params map[string]string
}

// DefaultProfiles は既定のパラメータプロファイルを返します。
// PDF→XLSX は既定パラメータだと表の抽出品質が低いため専用の設定を使います。
func DefaultProfiles() map[Pair]Profile {
	parseOptions, _ := json.Marshal(map[string]any{
		"ParseType":            "Table",
		"ExportHiddenContent":  true,
		"AutoDetectSeparators": true,
		"RemoveEmptyRows":      true,
		"SkipPdfErrors":        true,
	})
	return map[Pair]Profile{
		NewPair("PDF", "XLSX"): {
			Name: "pdf-to-xlsx",
			Params: map[string]string{
				"PageRange":     "1-2000",
				"WorksheetName": "Sheet1",
				"ParseOptions":  string(parseOptions),
			},
		},
	}
}
