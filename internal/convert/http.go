package convert

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/formats"
	"github.com/yourusername/file-forge/internal/workspace"
)

const (
	fieldSingleFile   = "file"
	fieldArchiveFiles = "Files"
	archiveFilename   = "archive.zip"
)

// HandlerOptions はアップロード制限です。
type HandlerOptions struct {
	MaxFileSize     int64
	MaxArchiveFiles int
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".zip":  "application/zip",
}

// Handler は POST /api/convert のハンドラーを返します。
// x-conversion-type: zip ヘッダーがある場合は Files フィールドの複数ファイルを受け取ります。
func Handler(svc *Service, wsm *workspace.Manager, opts HandlerOptions) gin.HandlerFunc {
	if opts.MaxArchiveFiles <= 0 {
		opts.MaxArchiveFiles = 10
	}
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		rule := workspace.FileRule{MaxSize: opts.MaxFileSize}
		field := fieldSingleFile
		if strings.EqualFold(c.GetHeader("x-conversion-type"), "zip") {
			field = fieldArchiveFiles
			rule.MaxCount = opts.MaxArchiveFiles
		}

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{field: rule},
			BeforeFile: func(_ string, form *workspace.Form) error {
				from, to := form.Value("fromFormat"), form.Value("toFormat")
				if from == "" || to == "" {
					return nil
				}
				return svc.ValidateFormats(from, to)
			},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		from, to := form.Value("fromFormat"), form.Value("toFormat")
		if err := svc.ValidateFormats(from, to); err != nil {
			apperr.Respond(c, err)
			return
		}

		if formats.Normalize(from) == formats.ArchiveSource {
			handleArchive(c, svc, ws, form.Files[fieldArchiveFiles])
			return
		}
		handleSingle(c, svc, ws, form.File(fieldSingleFile), from, to)
	}
}

func handleArchive(c *gin.Context, svc *Service, ws *workspace.Workspace, files []*workspace.UploadedFile) {
	if len(files) < 2 {
		apperr.Respond(c, apperr.InvalidInput("At least two files are required for ZIP archive creation"))
		return
	}
	outputPath, err := ws.Path(fmt.Sprintf("archive-%s.zip", ws.ID))
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to prepare the output file.", err))
		return
	}
	result, err := svc.CreateZipArchive(c.Request.Context(), files, outputPath)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := workspace.Deliver(c, result.FilePath, archiveFilename, contentTypes[".zip"]); err != nil {
		apperr.Respond(c, apperr.Internal("Error sending ZIP file", err))
	}
}

func handleSingle(c *gin.Context, svc *Service, ws *workspace.Workspace, file *workspace.UploadedFile, from, to string) {
	if file == nil {
		apperr.Respond(c, apperr.InvalidInput("No file uploaded"))
		return
	}
	registry := svc.Registry()
	if !registry.MatchesExtension(from, file.Ext()) {
		apperr.Respond(c, apperr.InvalidInput(fmt.Sprintf("Invalid file format. Expected %s but received %s", from, strings.TrimPrefix(file.Ext(), "."))))
		return
	}
	ext, err := registry.ExtensionFor(to)
	if err != nil {
		apperr.Respond(c, apperr.UnsupportedFormat(fmt.Sprintf("Unsupported output format: %s", to)))
		return
	}

	outputPath, err := ws.Path("output" + ext)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to prepare the output file.", err))
		return
	}
	result, err := svc.Convert(c.Request.Context(), file.Path, outputPath, from, to)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	contentType := contentTypes[ext]
	if err := workspace.Deliver(c, result.FilePath, file.BaseName()+ext, contentType); err != nil {
		apperr.Respond(c, apperr.Internal("Error sending converted file", err))
	}
}

// FormatsHandler は GET /api/convert/formats のハンドラーを返します。
// from クエリで指定したフォーマットから変換可能なフォーマットを返します。
func FormatsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		from := formats.Normalize(c.Query("from"))
		if from == "" {
			apperr.Respond(c, apperr.InvalidInput("from is required"))
			return
		}
		if !svc.Registry().IsFormatSupported(from) {
			apperr.Respond(c, apperr.UnsupportedFormat(fmt.Sprintf("Unsupported input format: %s", from)))
			return
		}
		c.JSON(http.StatusOK, gin.H{"from": from, "targets": svc.Registry().Targets(from)})
	}
}
