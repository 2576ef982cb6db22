package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/file-forge/internal/apperr"
)

const (
	defaultMaxFieldBytes = 64 * 1024
	multipartOverhead    = 1024 * 1024
	sniffBytes           = 3072
)

// FileRule は1つのファイルフィールドに対する制約です。
type FileRule struct {
	MaxSize    int64    // 1ファイルあたりの上限バイト数
	MaxCount   int      // 0 は 1 とみなす
	MIMETypes  []string // 許可するMIMEタイプ（空なら制限なし）
	MIMEPrefix string   // 例: "video/"
	TypeError  string   // MIMEが許可されない場合のメッセージ
}

func (r FileRule) maxCount() int {
	if r.MaxCount <= 0 {
		return 1
	}
	return r.MaxCount
}

func (r FileRule) allows(mimeType string) bool {
	if len(r.MIMETypes) == 0 && r.MIMEPrefix == "" {
		return true
	}
	if r.MIMEPrefix != "" && strings.HasPrefix(mimeType, r.MIMEPrefix) {
		return true
	}
	for _, t := range r.MIMETypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// Rules はアップロード受け取り時の制約です。
type Rules struct {
	Files         map[string]FileRule
	MaxFieldBytes int64

	// BeforeFile はファイルを書き出す直前に呼ばれます。
	// それまでに届いたフォーム値で検証し、エラーを返すと何も保存せずに中断します。
	BeforeFile func(field string, form *Form) error
}

// UploadedFile はディスクに保存されたアップロードファイルです。
type UploadedFile struct {
	Field    string
	Name     string // 元のファイル名
	MIMEType string
	Size     int64
	Path     string
}

// Ext は元ファイル名の拡張子を小文字で返します。
func (f *UploadedFile) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// BaseName は拡張子を除いた元ファイル名を返します。
func (f *UploadedFile) BaseName() string {
	base := filepath.Base(f.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Form は受け取ったフォーム値とファイルです。
type Form struct {
	Values map[string][]string
	Files  map[string][]*UploadedFile
}

// Value は最初の値を前後の空白を除いて返します。
func (f *Form) Value(key string) string {
	if v := f.Values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// File は field の最初のファイルを返します。
func (f *Form) File(field string) *UploadedFile {
	if files := f.Files[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

// FilesFor は指定フィールドのファイルを順に連結して返します。
func (f *Form) FilesFor(fields ...string) []*UploadedFile {
	var out []*UploadedFile
	for _, field := range fields {
		out = append(out, f.Files[field]...)
	}
	return out
}

// Intake は multipart ボディをストリームのままディスクへ保存します。
// メモリに保持するのは各パートの先頭（MIME判定用）とフォーム値だけです。
func (w *Workspace) Intake(r *http.Request, rules Rules) (*Form, error) {
	bodyLimit := int64(multipartOverhead)
	for _, rule := range rules.Files {
		bodyLimit += rule.MaxSize * int64(rule.maxCount())
	}
	r.Body = http.MaxBytesReader(nil, r.Body, bodyLimit)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.InvalidInput("Please send the request as multipart/form-data.")
	}

	maxField := rules.MaxFieldBytes
	if maxField <= 0 {
		maxField = defaultMaxFieldBytes
	}

	form := &Form{
		Values: map[string][]string{},
		Files:  map[string][]*UploadedFile{},
	}
	seq := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, translateReadError(err)
		}

		field := part.FormName()
		if field == "" {
			part.Close()
			continue
		}

		if part.FileName() == "" {
			value, err := readField(part, maxField)
			part.Close()
			if err != nil {
				return nil, err
			}
			form.Values[field] = append(form.Values[field], value)
			continue
		}

		rule, ok := rules.Files[field]
		if !ok {
			// 想定外のファイルフィールドは読み捨てる
			_, _ = io.Copy(io.Discard, part)
			part.Close()
			continue
		}
		if len(form.Files[field]) >= rule.maxCount() {
			part.Close()
			return nil, apperr.LimitExceeded(fmt.Sprintf("Too many files in field %q (maximum %d)", field, rule.maxCount()))
		}
		if rules.BeforeFile != nil {
			if err := rules.BeforeFile(field, form); err != nil {
				part.Close()
				return nil, err
			}
		}

		seq++
		uploaded, err := w.stagePart(part, field, seq, rule)
		part.Close()
		if err != nil {
			return nil, err
		}
		form.Files[field] = append(form.Files[field], uploaded)
	}
	return form, nil
}

func (w *Workspace) stagePart(part *multipart.Part, field string, seq int, rule FileRule) (*UploadedFile, error) {
	buffered := bufio.NewReaderSize(part, sniffBytes)
	head, err := buffered.Peek(sniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, translateReadError(err)
	}

	mimeType := effectiveMIME(part.Header.Get("Content-Type"), head)
	if !rule.allows(mimeType) {
		msg := rule.TypeError
		if msg == "" {
			msg = fmt.Sprintf("File type %s is not allowed", mimeType)
		}
		return nil, apperr.InvalidInput(msg)
	}

	name := part.FileName()
	path, err := w.Path(fmt.Sprintf("upload-%02d%s", seq, safeExt(name)))
	if err != nil {
		return nil, apperr.Internal("Failed to store the uploaded file.", err).In("workspace")
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, apperr.Internal("Failed to store the uploaded file.", err).In("workspace")
	}

	limit := rule.MaxSize
	var src io.Reader = buffered
	if limit > 0 {
		src = io.LimitReader(buffered, limit+1)
	}
	size, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, translateReadError(copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return nil, apperr.Internal("Failed to store the uploaded file.", closeErr).In("workspace")
	}
	if limit > 0 && size > limit {
		_ = os.Remove(path)
		return nil, apperr.LimitExceeded(fmt.Sprintf("File size exceeds %s limit", HumanSize(limit)))
	}
	if size == 0 {
		_ = os.Remove(path)
		return nil, apperr.InvalidInput(fmt.Sprintf("Uploaded file %q is empty", name))
	}

	return &UploadedFile{
		Field:    field,
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		Path:     path,
	}, nil
}

// effectiveMIME は申告された Content-Type を優先し、
// 未指定や汎用的な値の場合だけ内容から判定した型を使います。
func effectiveMIME(declared string, head []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			declared = strings.ToLower(mediaType)
		}
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	detected := mimetype.Detect(head).String()
	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		return mediaType
	}
	return detected
}

func readField(part *multipart.Part, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return "", translateReadError(err)
	}
	if int64(len(data)) > limit {
		return "", apperr.LimitExceeded(fmt.Sprintf("Form field %q is too large", part.FormName()))
	}
	return string(data), nil
}

func translateReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperr.LimitExceeded(fmt.Sprintf("Request body exceeds %s limit", HumanSize(maxErr.Limit)))
	}
	return apperr.InvalidInput("Malformed multipart request body.")
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

// HumanSize はバイト数を "500MB" や "500KB" の形式にします。
func HumanSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case n >= mb && n%mb == 0:
		return fmt.Sprintf("%dMB", n/mb)
	case n >= kb && n%kb == 0:
		return fmt.Sprintf("%dKB", n/kb)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
