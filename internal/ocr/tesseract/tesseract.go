// Package tesseract はローカルの Tesseract による ocr.Engine 実装です。
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/ocr"
)

var _ ocr.Engine = (*Engine)(nil)

// client は *gosseract.Client のうち Engine が使うメソッドです。
type client interface {
	SetLanguage(langs ...string) error
	SetImage(imagepath string) error
	Text() (string, error)
	Close() error
}

// Engine はローカルの Tesseract で文字認識します。
type Engine struct {
	languages     []string
	clientFactory func() client
}

// NewEngine は Engine を作成します。languages が空なら Tesseract の既定値です。
func NewEngine(languages ...string) *Engine {
	return &Engine{
		languages:     languages,
		clientFactory: func() client { return gosseract.NewClient() },
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize は画像ファイルのテキストを返します。
func (e *Engine) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return "", apperr.Internal("Error processing file", fmt.Errorf("set languages: %w", err)).In("ocr")
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", apperr.Internal("Error processing file", fmt.Errorf("set image: %w", err)).In("ocr")
	}
	text, err := c.Text()
	if err != nil {
		return "", apperr.Upstream("Error processing file", fmt.Errorf("recognize text: %w", err)).In("ocr")
	}
	return strings.Join(strings.Fields(text), " "), nil
}
