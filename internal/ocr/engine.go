// Package ocr は画像からのテキスト抽出を提供します。
package ocr

import (
	"context"
	"errors"
)

// ErrMissingKey はAPIキー未設定で呼び出した場合のエラーです。
var ErrMissingKey = errors.New("ocr: api key is not configured")

// Engine は画像ファイルからテキストを抽出します。
type Engine interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) (string, error)
}
