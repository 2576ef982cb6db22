// Package formats は対応フォーマットと変換可能な組み合わせの表を提供します。
package formats

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedFormat は未登録のフォーマットタグを指定した場合のエラーです。
var ErrUnsupportedFormat = errors.New("unsupported format")

// ArchiveSource は複数ファイルの ZIP 化を変換ペアとして扱うための疑似フォーマットです。
const ArchiveSource = "FILES"

// Descriptor は1つのフォーマットの定義です。
type Descriptor struct {
	Tag         string // 大文字のタグ (PDF, DOCX, ...)
	Extension   string // 先頭ドット付きの拡張子
	ServiceCode string // 変換サービス側のフォーマットコード
}

// Registry はプロセス起動時に1度だけ構築され、以後変更されません。
type Registry struct {
	formats map[string]Descriptor
	pairs   map[string]map[string]struct{}
}

// New は定義とペア表から Registry を構築します。
// ペアに登場するタグは descriptors に存在しなければなりません。
func New(descriptors []Descriptor, pairs map[string][]string) (*Registry, error) {
	r := &Registry{
		formats: make(map[string]Descriptor, len(descriptors)),
		pairs:   make(map[string]map[string]struct{}, len(pairs)),
	}
	for _, d := range descriptors {
		tag := Normalize(d.Tag)
		if tag == "" {
			return nil, errors.New("format tag is empty")
		}
		d.Tag = tag
		r.formats[tag] = d
	}
	for from, targets := range pairs {
		from = Normalize(from)
		if _, ok := r.formats[from]; !ok {
			return nil, fmt.Errorf("pair source %s is not a registered format", from)
		}
		set := make(map[string]struct{}, len(targets))
		for _, to := range targets {
			to = Normalize(to)
			if _, ok := r.formats[to]; !ok {
				return nil, fmt.Errorf("pair target %s is not a registered format", to)
			}
			set[to] = struct{}{}
		}
		r.pairs[from] = set
	}
	return r, nil
}

// Default は標準のフォーマット表を返します。
func Default() *Registry {
	r, err := New(defaultDescriptors, defaultPairs)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultDescriptors = []Descriptor{
	{Tag: "PDF", Extension: ".pdf", ServiceCode: "pdf"},
	{Tag: "DOCX", Extension: ".docx", ServiceCode: "docx"},
	{Tag: "DOC", Extension: ".doc", ServiceCode: "doc"},
	{Tag: "XLSX", Extension: ".xlsx", ServiceCode: "xlsx"},
	{Tag: "JPG", Extension: ".jpg", ServiceCode: "jpg"},
	{Tag: "JPEG", Extension: ".jpg", ServiceCode: "jpg"},
	{Tag: "PNG", Extension: ".png", ServiceCode: "png"},
	{Tag: "WEBP", Extension: ".webp", ServiceCode: "webp"},
	{Tag: "PPTX", Extension: ".pptx", ServiceCode: "pptx"},
	{Tag: "ZIP", Extension: ".zip", ServiceCode: "zip"},
	{Tag: ArchiveSource, ServiceCode: "any"},
}

var defaultPairs = map[string][]string{
	"PDF":         {"DOCX", "JPG", "PPTX", "XLSX"},
	"DOCX":        {"PDF"},
	"PPTX":        {"PDF"},
	"XLSX":        {"PDF"},
	"JPG":         {"PNG"},
	"PNG":         {"JPG"},
	"WEBP":        {"JPG", "PNG"},
	ArchiveSource: {"ZIP"},
}

// Normalize はタグを比較用に大文字化します。
func Normalize(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}

// IsFormatSupported はタグが登録済みかを返します。
func (r *Registry) IsFormatSupported(tag string) bool {
	_, ok := r.formats[Normalize(tag)]
	return ok
}

// IsConversionSupported は (from, to) が登録済みの変換ペアかを返します。
func (r *Registry) IsConversionSupported(from, to string) bool {
	targets, ok := r.pairs[Normalize(from)]
	if !ok {
		return false
	}
	_, ok = targets[Normalize(to)]
	return ok
}

// ExtensionFor はタグに対応する拡張子を返します。
func (r *Registry) ExtensionFor(tag string) (string, error) {
	d, ok := r.formats[Normalize(tag)]
	if !ok || d.Extension == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, Normalize(tag))
	}
	return d.Extension, nil
}

// ServiceCode は変換サービス側のフォーマットコードを返します。
func (r *Registry) ServiceCode(tag string) (string, error) {
	d, ok := r.formats[Normalize(tag)]
	if !ok || d.ServiceCode == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, Normalize(tag))
	}
	return d.ServiceCode, nil
}

// MatchesExtension はファイル拡張子がタグと同じフォーマットを指すかを判定します。
// JPG と JPEG のように拡張子を共有するタグは同一とみなします。
func (r *Registry) MatchesExtension(tag, ext string) bool {
	want, err := r.ExtensionFor(tag)
	if err != nil {
		return false
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return false
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == want {
		return true
	}
	for _, d := range r.formats {
		if d.Extension == want && "."+strings.ToLower(d.Tag) == ext {
			return true
		}
	}
	return false
}

// Sources は変換元として登録されているタグを昇順で返します。
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.pairs))
	for from := range r.pairs {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// Targets は from から変換可能なタグを昇順で返します。
func (r *Registry) Targets(from string) []string {
	set := r.pairs[Normalize(from)]
	out := make([]string, 0, len(set))
	for to := range set {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}
