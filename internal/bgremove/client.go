// Package bgremove は remove.bg を使った画像の背景除去を提供します。
package bgremove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
)

// ErrMissingKey はAPIキー未設定で呼び出した場合のエラーです。
var ErrMissingKey = errors.New("bgremove: api key is not configured")

// StatusError は remove.bg が 2xx 以外を返した場合のエラーです。
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bgremove: unexpected status %d", e.Status)
}

// Client は remove.bg を呼び出します。
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient は Client を作成します。
func NewClient(endpoint, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		timeout:    timeout,
		logger:     logger.With().Str("component", "bgremove").Logger(),
	}
}

// RemoveBackground は inputPath の画像を送信し、背景を除去したPNGを outputPath に書き出します。
func (c *Client) RemoveBackground(ctx context.Context, inputPath, filename, outputPath string) (int64, error) {
	if c.apiKey == "" {
		return 0, mapError(ErrMissingKey)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeBody(writer, inputPath, filename))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.Close()
		return 0, mapError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return 0, mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		c.logger.Warn().Int("status", resp.StatusCode).Bytes("body", body).Msg("remove.bg returned an error")
		return 0, mapError(&StatusError{Status: resp.StatusCode})
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, apperr.Internal("Failed to remove background", err)
	}
	n, copyErr := io.Copy(out, resp.Body)
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return 0, mapError(copyErr)
	}
	return n, nil
}

func writeBody(writer *multipart.Writer, inputPath, filename string) error {
	if err := writer.WriteField("size", "auto"); err != nil {
		return err
	}
	src, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer src.Close()
	if filename == "" {
		filename = filepath.Base(inputPath)
	}
	part, err := writer.CreateFormFile("image_file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return writer.Close()
}

// mapError は remove.bg のエラーを利用者向けのエラーに変換します。
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrMissingKey) {
		return apperr.Internal("API configuration error", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Upstream("The background removal service took too long to respond.", err)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusBadRequest:
			return apperr.InvalidInput("The image could not be processed. Please upload a clear photo with a distinguishable foreground.")
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.UpstreamAuth("The background removal service rejected the API key.", err)
		case http.StatusPaymentRequired:
			return apperr.QuotaExceeded("Background removal quota exceeded.", err)
		}
	}
	return apperr.Upstream("Failed to remove background", err)
}
