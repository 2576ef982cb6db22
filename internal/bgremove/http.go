package bgremove

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/workspace"
)

const outputFilename = "removed-bg.png"

// Remover は背景除去を行います。
type Remover interface {
	RemoveBackground(ctx context.Context, inputPath, filename, outputPath string) (int64, error)
}

// HandlerOptions はアップロード制限です。
type HandlerOptions struct {
	MaxFileSize int64
}

// Handler は POST /api/remove-background のハンドラーを返します。
func Handler(remover Remover, wsm *workspace.Manager, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := wsm.New()
		defer ws.Cleanup()

		form, err := ws.Intake(c.Request, workspace.Rules{
			Files: map[string]workspace.FileRule{
				"image": {
					MaxSize:    opts.MaxFileSize,
					MIMEPrefix: "image/",
					TypeError:  "Only image files are allowed",
				},
			},
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		image := form.File("image")
		if image == nil {
			apperr.Respond(c, apperr.InvalidInput("No image file provided"))
			return
		}

		output, err := ws.Path(outputFilename)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to remove background", err))
			return
		}
		if _, err := remover.RemoveBackground(c.Request.Context(), image.Path, image.Name, output); err != nil {
			apperr.Respond(c, err)
			return
		}
		if err := workspace.Deliver(c, output, outputFilename, "image/png"); err != nil {
			apperr.Respond(c, apperr.Internal("Failed to remove background", err))
		}
	}
}
