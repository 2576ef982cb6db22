// Package testutil はハンドラーテスト用のリクエスト組み立てを提供します。
package testutil

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/workspace"
)

// Part は multipart のファイルパートです。
type Part struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Field はフォーム値です。
type Field struct {
	Name  string
	Value string
}

// MultipartRequest は fields を先に、parts を後に書き込んだ POST リクエストを作ります。
func MultipartRequest(t *testing.T, target string, fields []Field, parts []Part) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+p.Field+`"; filename="`+p.Filename+`"`)
		if p.ContentType != "" {
			header.Set("Content-Type", p.ContentType)
		}
		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := w.Write(p.Data); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// NewWorkspaceManager は t.TempDir 配下の Manager を返します。
func NewWorkspaceManager(t *testing.T) *workspace.Manager {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// Residue は Manager のルートに残っているエントリ数を返します。
func Residue(t *testing.T, m *workspace.Manager) int {
	t.Helper()
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	return len(entries)
}

// Serve は handler を1ルートだけ持つ gin エンジンで req を処理します。
func Serve(handler gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Handle(req.Method, req.URL.Path, handler)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
