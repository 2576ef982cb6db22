package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/workspace"
)

// MergeService は結合処理を提供します。
type MergeService interface {
	Merge(ctx context.Context, sources []Source, output string) (*MergeMeta, error)
}

// SplitService は分割処理を提供します。
type SplitService interface {
	Split(ctx context.Context, src Source, splitPage int, outZip string) (*SplitMeta, error)
}

// InspectService はPDFのメタデータ取得を提供します。
type InspectService interface {
	Inspect(ctx context.Context, src Source) (*InspectResult, error)
}

// HandlerOptions はアップロード制限です。
type HandlerOptions struct {
	MaxFileSize  int64
	MaxMergeFile int
}

func pdfRule(opts HandlerOptions, count int) workspace.FileRule {
	return workspace.FileRule{
		MaxSize:   opts.MaxFileSize,
		MaxCount:  count,
		MIMETypes: []string{"application/pdf"},
		TypeError: "Only PDF files are allowed",
	}
}

// MergeHandler は POST /api/pdf/merge のハンドラーを返します。
func MergeHandler(svc MergeService, wsm *workspace.Manager, opts HandlerOptions) gin.HandlerFunc {
	if opts.MaxMergeFile <= 0 {
		opts.MaxMergeFile = 20
	}
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{
				"files":   pdfRule(opts, opts.MaxMergeFile),
				"files[]": pdfRule(opts, opts.MaxMergeFile),
			},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		files := form.FilesFor("files[]", "files")
		if len(files) < 2 {
			apperr.Respond(c, apperr.InvalidInput("Please select at least 2 PDF files to merge"))
			return
		}

		order, err := parseOrder(form, len(files))
		if err != nil {
			apperr.Respond(c, apperr.InvalidInput(err.Error()))
			return
		}
		sources := make([]Source, len(files))
		for i, idx := range order {
			sources[i] = Source{Name: files[idx].Name, Path: files[idx].Path}
		}

		output, err := ws.Path(mergedFilename)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to merge PDFs", err))
			return
		}
		meta, err := svc.Merge(c.Request.Context(), sources, output)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		c.Header("X-Total-Pages", strconv.Itoa(meta.TotalPages))
		if err := workspace.Deliver(c, output, mergedFilename, "application/pdf"); err != nil {
			apperr.Respond(c, apperr.Internal("Failed to merge PDFs", err))
		}
	}
}

// SplitHandler は POST /api/pdf/split のハンドラーを返します。
func SplitHandler(svc SplitService, wsm *workspace.Manager, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{"file": pdfRule(opts, 1)},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		file := form.File("file")
		if file == nil {
			apperr.Respond(c, apperr.InvalidInput("Please select a PDF file to split"))
			return
		}
		splitPage, err := strconv.Atoi(form.Value("splitPage"))
		if err != nil || splitPage < 1 {
			apperr.Respond(c, apperr.InvalidInput("Please specify a valid page number to split at"))
			return
		}

		filename := fmt.Sprintf("split_%s.zip", file.BaseName())
		output, err := ws.Path("split.zip")
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to split PDF", err))
			return
		}
		// 分割結果の part*.pdf も削除対象に含める
		for _, part := range []string{"part1.pdf", "part2.pdf"} {
			if _, err := ws.Path(part); err != nil {
				apperr.Respond(c, apperr.Internal("Failed to split PDF", err))
				return
			}
		}

		if _, err := svc.Split(c.Request.Context(), Source{Name: file.Name, Path: file.Path}, splitPage, output); err != nil {
			apperr.Respond(c, err)
			return
		}
		if err := workspace.Deliver(c, output, filename, "application/zip"); err != nil {
			apperr.Respond(c, apperr.Internal("Failed to split PDF", err))
		}
	}
}

// InspectHandler は POST /api/pdf/inspect のハンドラーを返します。
func InspectHandler(svc InspectService, wsm *workspace.Manager, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{"file": pdfRule(opts, 1)},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		file := form.File("file")
		if file == nil {
			apperr.Respond(c, apperr.InvalidInput("Please select a PDF file"))
			return
		}
		result, err := svc.Inspect(c.Request.Context(), Source{Name: file.Name, Path: file.Path})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// parseOrder は order（JSON配列）または order[] から結合順を読み取ります。
// 未指定の場合はアップロード順です。
func parseOrder(form *workspace.Form, count int) ([]int, error) {
	var order []int
	if raw := form.Value("order"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, errors.New("order must be a JSON array of integers, e.g. [0,1,2]")
		}
	} else if values := form.Values["order[]"]; len(values) > 0 {
		order = make([]int, len(values))
		for i, v := range values {
			num, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.New("order[] values must be integers")
			}
			order[i] = num
		}
	}

	if order == nil {
		order = make([]int, count)
		for i := range order {
			order[i] = i
		}
		return order, nil
	}

	if len(order) != count {
		return nil, fmt.Errorf("order must list all %d files", count)
	}
	seen := make(map[int]bool, count)
	for _, idx := range order {
		if idx < 0 || idx >= count || seen[idx] {
			return nil, errors.New("order must be a permutation of the uploaded file indexes")
		}
		seen[idx] = true
	}
	return order, nil
}
