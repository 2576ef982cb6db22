package workspace

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
)

type testPart struct {
	field, filename, contentType string
	data                         []byte
}

func newMultipartRequest(t *testing.T, fields [][2]string, parts []testPart) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := w.Write(p.data); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "tmp"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func listRoot(t *testing.T, m *Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIntakeStagesFilesAndFields(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	defer ws.Cleanup()

	req := newMultipartRequest(t,
		[][2]string{{"fromFormat", " docx "}},
		[]testPart{{field: "file", filename: "report.docx", contentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", data: []byte("docx-bytes")}},
	)

	form, err := ws.Intake(req, Rules{Files: map[string]FileRule{"file": {MaxSize: 1024}}})
	if err != nil {
		t.Fatalf("Intake returned error: %v", err)
	}
	if got := form.Value("fromFormat"); got != "docx" {
		t.Fatalf("fromFormat = %q", got)
	}
	f := form.File("file")
	if f == nil {
		t.Fatal("expected staged file")
	}
	if f.BaseName() != "report" || f.Ext() != ".docx" || f.Size != int64(len("docx-bytes")) {
		t.Fatalf("unexpected file: %+v", f)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil || string(data) != "docx-bytes" {
		t.Fatalf("staged content = %q, err=%v", data, err)
	}
	if filepath.Dir(f.Path) != ws.Dir {
		t.Fatalf("file staged outside workspace: %s", f.Path)
	}
}

func TestIntakeRejectsOversizeFile(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()

	req := newMultipartRequest(t, nil, []testPart{{field: "image", filename: "big.png", contentType: "image/png", data: bytes.Repeat([]byte("a"), 2048)}})
	_, err := ws.Intake(req, Rules{Files: map[string]FileRule{"image": {MaxSize: 1024, MIMEPrefix: "image/"}}})

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeLimitExceeded {
		t.Fatalf("expected LIMIT_EXCEEDED, got %v", err)
	}
	if !strings.Contains(appErr.Message, "1KB") {
		t.Fatalf("unexpected message: %s", appErr.Message)
	}

	ws.Cleanup()
	if names := listRoot(t, m); len(names) != 0 {
		t.Fatalf("expected no residual files, got %v", names)
	}
}

func TestIntakeRejectsDisallowedMIME(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	defer ws.Cleanup()

	req := newMultipartRequest(t, nil, []testPart{{field: "video", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")}})
	_, err := ws.Intake(req, Rules{Files: map[string]FileRule{"video": {MaxSize: 1024, MIMETypes: []string{"video/mp4"}, TypeError: "Invalid file format."}}})

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != "Invalid file format." {
		t.Fatalf("expected invalid format error, got %v", err)
	}
	if len(ws.Files()) != 0 {
		t.Fatalf("nothing should be staged, got %v", ws.Files())
	}
}

func TestIntakeDetectsGenericMIME(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	defer ws.Cleanup()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	req := newMultipartRequest(t, nil, []testPart{{field: "file", filename: "scan.png", contentType: "application/octet-stream", data: png}})
	form, err := ws.Intake(req, Rules{Files: map[string]FileRule{"file": {MaxSize: 1024, MIMETypes: []string{"image/png", "image/jpeg"}}}})
	if err != nil {
		t.Fatalf("Intake returned error: %v", err)
	}
	if got := form.File("file").MIMEType; got != "image/png" {
		t.Fatalf("MIMEType = %q, want image/png", got)
	}
}

func TestIntakeBeforeFileStopsStaging(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	defer ws.Cleanup()

	req := newMultipartRequest(t,
		[][2]string{{"fromFormat", "PDF"}, {"toFormat", "MP4"}},
		[]testPart{{field: "file", filename: "a.pdf", data: []byte("%PDF-1.4")}},
	)
	rejected := apperr.InvalidInput("Conversion from PDF to MP4 is not supported")
	_, err := ws.Intake(req, Rules{
		Files: map[string]FileRule{"file": {MaxSize: 1024}},
		BeforeFile: func(field string, form *Form) error {
			if form.Value("toFormat") == "MP4" {
				return rejected
			}
			return nil
		},
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if names := listRoot(t, m); len(names) != 0 {
		t.Fatalf("hook rejection must not create files, got %v", names)
	}
}

func TestIntakeTooManyFiles(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	defer ws.Cleanup()

	parts := []testPart{
		{field: "Files", filename: "a.txt", data: []byte("a")},
		{field: "Files", filename: "b.txt", data: []byte("b")},
		{field: "Files", filename: "c.txt", data: []byte("c")},
	}
	_, err := ws.Intake(newMultipartRequest(t, nil, parts), Rules{Files: map[string]FileRule{"Files": {MaxSize: 10, MaxCount: 2}}})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeLimitExceeded {
		t.Fatalf("expected LIMIT_EXCEEDED, got %v", err)
	}
}

func TestIntakeRequiresMultipart(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	if _, err := ws.Intake(req, Rules{}); err == nil {
		t.Fatal("expected error for non-multipart request")
	}
}

func TestCleanupRemovesEverythingOnce(t *testing.T) {
	m := newTestManager(t)
	before := listRoot(t, m)

	ws := m.New()
	for _, name := range []string{"input.docx", "output.pdf"} {
		p, err := ws.Path(name)
		if err != nil {
			t.Fatalf("Path: %v", err)
		}
		if err := os.WriteFile(p, []byte(name), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if _, err := ws.Path("never-written.zip"); err != nil {
		t.Fatalf("Path: %v", err)
	}

	ws.Cleanup()
	ws.Cleanup()

	after := listRoot(t, m)
	if len(after) != len(before) {
		t.Fatalf("residual entries: before=%v after=%v", before, after)
	}
}

func TestHandOffKeepsFiles(t *testing.T) {
	m := newTestManager(t)
	ws := m.New()
	p, err := ws.Path("input.mp4")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := os.WriteFile(p, []byte("video"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ws.HandOff(); err != nil {
		t.Fatalf("HandOff: %v", err)
	}
	ws.Cleanup()
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("handed-off file should remain: %v", err)
	}

	reopened, err := m.Open(ws.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(reopened.Files()) != 1 {
		t.Fatalf("reopened files = %v", reopened.Files())
	}
	reopened.Cleanup()
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Open("../etc"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestDeliverSetsAttachmentHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if err := Deliver(ctx, path, "report.pdf", "application/pdf"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="report.pdf"`) {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if rec.Body.String() != "%PDF-1.4" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		500 * 1024 * 1024: "500MB",
		500 * 1024:        "500KB",
		10:                "10 bytes",
	}
	for n, want := range cases {
		if got := HumanSize(n); got != want {
			t.Errorf("HumanSize(%d) = %q, want %q", n, got, want)
		}
	}
}

func stageFile(t *testing.T, ws *Workspace, name string) string {
	t.Helper()
	p, err := ws.Path(name)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := os.WriteFile(p, []byte("data"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestSweepRemovesCompletedJobsAfterMaxAge(t *testing.T) {
	m := newTestManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	old := m.New()
	stageFile(t, old, "output.mp4")
	if err := old.HandOff(); err != nil {
		t.Fatalf("HandOff: %v", err)
	}
	if err := old.MarkDone(); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	fresh := m.New()
	stageFile(t, fresh, "output.mp4")
	if err := fresh.HandOff(); err != nil {
		t.Fatalf("HandOff: %v", err)
	}
	// 実行に時間がかかったジョブは完了時刻から数える
	m.now = func() time.Time { return base.Add(9 * time.Minute) }
	if err := fresh.MarkDone(); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	if err := os.Mkdir(filepath.Join(m.Root(), "unrelated"), 0o750); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	m.now = func() time.Time { return base.Add(11 * time.Minute) }
	removed, err := m.Sweep(10 * time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	names := listRoot(t, m)
	if len(names) != 2 {
		t.Fatalf("unexpected entries after sweep: %v", names)
	}
	for _, n := range names {
		if n == old.ID {
			t.Fatalf("expired workspace %s still present", n)
		}
	}
}

func TestSweepKeepsInFlightWorkspaces(t *testing.T) {
	m := newTestManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	live := m.New()
	input := stageFile(t, live, "upload-01.mp4")
	defer live.Cleanup()

	queued := m.New()
	queuedInput := stageFile(t, queued, "upload-01.mp4")
	if err := queued.HandOff(); err != nil {
		t.Fatalf("HandOff: %v", err)
	}

	m.now = func() time.Time { return base.Add(45 * time.Minute) }
	removed, err := m.Sweep(10 * time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	for _, p := range []string{input, queuedInput} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("in-flight file %s was removed: %v", p, err)
		}
	}
}

func TestSweepRemovesStaleWorkspaces(t *testing.T) {
	m := newTestManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	orphan := m.New()
	stageFile(t, orphan, "upload-01.mp4")

	m.now = func() time.Time { return base.Add(DefaultStaleAfter + time.Minute) }
	removed, err := m.Sweep(10 * time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(orphan.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected stale workspace removed, stat err=%v", err)
	}
}
