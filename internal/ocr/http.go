package ocr

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/workspace"
)

// HandlerOptions はアップロード制限です。
type HandlerOptions struct {
	MaxFileSize int64
}

// Handler は POST /api/text-extractor/extract-text のハンドラーを返します。
func Handler(engine Engine, wsm *workspace.Manager, opts HandlerOptions, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{
				"file": {
					MaxSize:   opts.MaxFileSize,
					MIMETypes: []string{"image/jpeg", "image/png"},
					TypeError: "Only JPEG and PNG files are allowed",
				},
			},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		file := form.File("file")
		if file == nil {
			apperr.Respond(c, apperr.InvalidInput("No file uploaded"))
			return
		}

		text, err := engine.Recognize(c.Request.Context(), file.Path)
		if err != nil {
			logger.Error().Err(err).Str("engine", engine.Name()).Msg("text extraction failed")
			apperr.Respond(c, err)
			return
		}
		if text == "" {
			apperr.Respond(c, apperr.InvalidInput("No text found in the image").
				WithDetails("Please make sure the image contains clear, readable text"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	}
}
