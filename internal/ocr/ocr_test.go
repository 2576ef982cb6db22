package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/testutil"
)

var pngData = []byte("\x89PNG\r\n\x1a\n0000IHDR")

func writeImageFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, pngData, 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestJoinFragmentsReadingOrder(t *testing.T) {
	fragments := []Fragment{
		{Text: "world", BoundingBox: BoundingBox{X1: 60, Y1: 10}},
		{Text: "second", BoundingBox: BoundingBox{X1: 5, Y1: 40}},
		{Text: "hello", BoundingBox: BoundingBox{X1: 5, Y1: 10}},
		{Text: "  ", BoundingBox: BoundingBox{X1: 0, Y1: 0}},
	}
	if got := JoinFragments(fragments); got != "hello world second" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestNinjasRecognize(t *testing.T) {
	var gotKey, gotImage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		if f, _, err := r.FormFile("image"); err == nil {
			data, _ := io.ReadAll(f)
			gotImage = string(data)
		}
		_ = json.NewEncoder(w).Encode([]Fragment{
			{Text: "B", BoundingBox: BoundingBox{X1: 20, Y1: 0}},
			{Text: "A", BoundingBox: BoundingBox{X1: 0, Y1: 0}},
		})
	}))
	defer srv.Close()

	engine := NewNinjasEngine(srv.URL, "ninja-key", 0)
	text, err := engine.Recognize(context.Background(), writeImageFile(t))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "A B" || gotKey != "ninja-key" || gotImage != string(pngData) {
		t.Fatalf("unexpected result: text=%q key=%q", text, gotKey)
	}
}

func TestNinjasStatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		code    string
		message string
	}{
		{http.StatusUnauthorized, apperr.CodeUpstreamAuth, "Invalid API key"},
		{http.StatusPaymentRequired, apperr.CodeQuotaExceeded, "API quota exceeded"},
		{http.StatusBadRequest, apperr.CodeInvalidInput, "Invalid request"},
		{http.StatusBadGateway, apperr.CodeUpstreamFailed, "Error processing file"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(tc.status)
		}))
		_, err := NewNinjasEngine(srv.URL, "key", 0).Recognize(context.Background(), writeImageFile(t))
		srv.Close()

		var appErr *apperr.Error
		if !errors.As(err, &appErr) || appErr.Code != tc.code || appErr.Message != tc.message {
			t.Fatalf("status %d: unexpected error %v", tc.status, err)
		}
	}
}

type stubEngine struct {
	text string
	err  error
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	return s.text, s.err
}

func serveImage(t *testing.T, engine Engine, part testutil.Part) *httptest.ResponseRecorder {
	t.Helper()
	wsm := testutil.NewWorkspaceManager(t)
	handler := Handler(engine, wsm, HandlerOptions{MaxFileSize: 500 * 1024}, zerolog.Nop())
	req := testutil.MultipartRequest(t, "/api/text-extractor/extract-text", nil, []testutil.Part{part})
	rec := testutil.Serve(handler, req)
	if n := testutil.Residue(t, wsm); n != 0 {
		t.Fatalf("expected no temp files, found %d", n)
	}
	return rec
}

func TestHandlerReturnsText(t *testing.T) {
	rec := serveImage(t, stubEngine{text: "hello world"}, testutil.Part{Field: "file", Filename: "scan.png", ContentType: "image/png", Data: pngData})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["text"] != "hello world" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandlerNoText(t *testing.T) {
	rec := serveImage(t, stubEngine{}, testutil.Part{Field: "file", Filename: "blank.png", ContentType: "image/png", Data: pngData})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No text found in the image") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerRejectsGIF(t *testing.T) {
	rec := serveImage(t, stubEngine{text: "x"}, testutil.Part{Field: "file", Filename: "anim.gif", ContentType: "image/gif", Data: []byte("GIF89a")})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Only JPEG and PNG files are allowed") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerRejectsOversizeImage(t *testing.T) {
	big := append(append([]byte(nil), pngData...), make([]byte, 500*1024)...)
	rec := serveImage(t, stubEngine{text: "x"}, testutil.Part{Field: "file", Filename: "big.png", ContentType: "image/png", Data: big})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), apperr.CodeLimitExceeded) {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerMissingKey(t *testing.T) {
	engine := NewNinjasEngine("http://127.0.0.1:1", "", 0)
	rec := serveImage(t, engine, testutil.Part{Field: "file", Filename: "scan.png", ContentType: "image/png", Data: pngData})
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "API configuration error") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
}
