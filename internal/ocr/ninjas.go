package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/file-forge/internal/apperr"
)

// Fragment は API Ninjas が返すテキスト断片です。
type Fragment struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// BoundingBox は断片の位置です。
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// StatusError は API Ninjas が 2xx 以外を返した場合のエラーです。
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocr: unexpected status %d", e.Status)
}

// NinjasEngine は API Ninjas の imagetotext を呼び出します。
type NinjasEngine struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewNinjasEngine は NinjasEngine を作成します。
func NewNinjasEngine(endpoint, apiKey string, timeout time.Duration) *NinjasEngine {
	return &NinjasEngine{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		timeout:    timeout,
	}
}

func (e *NinjasEngine) Name() string { return "ninjas" }

// Recognize は画像を送信し、断片を読み順に並べて空白で連結します。
func (e *NinjasEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	if e.apiKey == "" {
		return "", mapNinjasError(ErrMissingKey)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeImage(writer, imagePath))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, pr)
	if err != nil {
		pr.Close()
		return "", mapNinjasError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return "", mapNinjasError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
		return "", mapNinjasError(&StatusError{Status: resp.StatusCode})
	}

	var fragments []Fragment
	if err := json.NewDecoder(resp.Body).Decode(&fragments); err != nil {
		return "", apperr.Upstream("Error processing file", fmt.Errorf("ocr: failed to decode response: %w", err))
	}
	return JoinFragments(fragments), nil
}

// JoinFragments は上から下、左から右の順に並べた断片を空白で連結します。
func JoinFragments(fragments []Fragment) string {
	sorted := append([]Fragment(nil), fragments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].BoundingBox, sorted[j].BoundingBox
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})
	texts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		if t := strings.TrimSpace(f.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

func writeImage(writer *multipart.Writer, imagePath string) error {
	src, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer src.Close()
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return writer.Close()
}

func mapNinjasError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrMissingKey) {
		return apperr.Internal("API configuration error", err).WithDetails("API key is not configured")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Upstream("The text extraction service took too long to respond.", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusBadRequest:
			return apperr.InvalidInput("Invalid request").
				WithDetails("Please ensure your image is in JPEG or PNG format and under 500KB")
		case http.StatusUnauthorized:
			return apperr.UpstreamAuth("Invalid API key", err).
				WithDetails("The provided API key is invalid or expired")
		case http.StatusPaymentRequired:
			return apperr.QuotaExceeded("API quota exceeded", err)
		}
	}
	return apperr.Upstream("Error processing file", err)
}
