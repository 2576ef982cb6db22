// Package convertapi は外部変換サービス（ConvertAPI v2）の HTTP クライアントです。
package convertapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingSecret はシークレット未設定で呼び出した場合のエラーです。
var ErrMissingSecret = errors.New("convertapi: secret is not configured")

// APIError は変換サービスが返した構造化エラーです。
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convertapi: status=%d code=%d: %s", e.Status, e.Code, e.Message)
}

// Upload はディスク上の入力ファイルです。
type Upload struct {
	Name string // サービスへ送るファイル名
	Path string
}

// Request は1回の変換呼び出しです。
type Request struct {
	From   string // サービス側のフォーマットコード (pdf, docx, any, ...)
	To     string
	Files  []Upload
	Params map[string]string
}

// ResultFile は変換結果の1ファイルです。FileData（base64）か Url のどちらかが入ります。
type ResultFile struct {
	FileName string `json:"FileName"`
	FileExt  string `json:"FileExt"`
	FileSize int64  `json:"FileSize"`
	FileData string `json:"FileData,omitempty"`
	URL      string `json:"Url,omitempty"`
}

// Response は変換結果です。
type Response struct {
	ConversionCost int          `json:"ConversionCost"`
	Files          []ResultFile `json:"Files"`
}

// Client は ConvertAPI を呼び出します。
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	timeout    time.Duration
}

// Option は Client の設定を変更します。
type Option func(*Client)

// WithHTTPClient は使用する http.Client を差し替えます。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout は1呼び出しあたりのタイムアウトを設定します。0 は無制限です。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient は Client を作成します。
func NewClient(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert は入力ファイルを送信し、変換完了まで待ちます。
func (c *Client) Convert(ctx context.Context, req Request) (*Response, error) {
	if c.secret == "" {
		return nil, ErrMissingSecret
	}
	if len(req.Files) == 0 {
		return nil, errors.New("convertapi: no input files")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	endpoint := fmt.Sprintf("%s/convert/%s/to/%s", c.baseURL, url.PathEscape(req.From), url.PathEscape(req.To))

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeBody(writer, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("convertapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("convertapi: failed to decode response: %w", err)
	}
	if len(out.Files) == 0 {
		return nil, errors.New("convertapi: response contains no files")
	}
	return &out, nil
}

// Save は結果ファイルを path に書き込み、書き込んだバイト数を返します。
func (c *Client) Save(ctx context.Context, f ResultFile, path string) (int64, error) {
	var src io.Reader
	switch {
	case f.FileData != "":
		src = base64.NewDecoder(base64.StdEncoding, strings.NewReader(f.FileData))
	case f.URL != "":
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
		if err != nil {
			return 0, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("convertapi: download failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, &APIError{Status: resp.StatusCode, Message: "result download failed"}
		}
		src = resp.Body
	default:
		return 0, errors.New("convertapi: result file has neither data nor url")
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, src)
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return n, fmt.Errorf("convertapi: failed to write result: %w", copyErr)
	}
	return n, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func writeBody(writer *multipart.Writer, req Request) error {
	for key, value := range req.Params {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}
	for i, f := range req.Files {
		field := "File"
		if len(req.Files) > 1 {
			field = fmt.Sprintf("Files[%d]", i)
		}
		name := f.Name
		if name == "" {
			name = filepath.Base(f.Path)
		}
		if err := copyFilePart(writer, field, name, f.Path); err != nil {
			return err
		}
	}
	return writer.Close()
}

func copyFilePart(writer *multipart.Writer, field, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	part, err := writer.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
