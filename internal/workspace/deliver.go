package workspace

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Deliver は path のファイルを添付ファイルとしてストリーム返却します。
// 一時ファイルの削除は呼び出し側の Cleanup が担当します。
func Deliver(c *gin.Context, path, filename, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("成果物の読み込みに失敗しました: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("成果物の情報取得に失敗しました: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", ContentDisposition(filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
	return nil
}

// ContentDisposition は RFC 5987 形式のファイル名を含む attachment ヘッダー値を返します。
func ContentDisposition(filename string) string {
	encodedName := url.PathEscape(filename)
	plain := strings.NewReplacer(`"`, "'", "\r", "", "\n", "").Replace(filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", plain, encodedName)
}
