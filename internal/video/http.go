package video

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/file-forge/internal/apperr"
	"github.com/yourusername/file-forge/internal/workspace"
)

const fieldVideo = "video"

var (
	videoMIMETypes = []string{"video/mp4", "video/avi", "video/quicktime", "video/x-matroska", "video/webm"}
	bitratePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[kKmM]?$`)
)

// HandlerOptions は同期/非同期切り替えとアップロード制限の設定です。
type HandlerOptions struct {
	MaxFileSize         int64
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
}

func (o HandlerOptions) async(size int64) bool {
	return o.Scheduler != nil && o.AsyncThresholdBytes > 0 && size > o.AsyncThresholdBytes
}

// ProcessVideoHandler は POST /api/video/process-video のハンドラーを返します。
func ProcessVideoHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := svc.workspaces.New()
		defer ws.Cleanup()

		form, file, ok := intakeVideo(c, ws, opts)
		if !ok {
			return
		}
		params, err := parseOptions(form)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		if opts.async(file.Size) {
			enqueue(c, svc, ws, opts.Scheduler, OperationTranscode, file, params)
			return
		}

		output, err := ws.Path(operationOutput[OperationTranscode].stored)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to prepare the output file.", err))
			return
		}
		if err := svc.Transcode(c.Request.Context(), file.Path, output, params, nil); err != nil {
			apperr.Respond(c, MapError(err))
			return
		}
		deliver(c, output, OperationTranscode)
	}
}

// ExtractAudioHandler は POST /api/video/extract-audio のハンドラーを返します。
func ExtractAudioHandler(svc *Service, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := svc.workspaces.New()
		defer ws.Cleanup()

		_, file, ok := intakeVideo(c, ws, opts)
		if !ok {
			return
		}

		if opts.async(file.Size) {
			enqueue(c, svc, ws, opts.Scheduler, OperationExtractAudio, file, Options{})
			return
		}

		output, err := ws.Path(operationOutput[OperationExtractAudio].stored)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to prepare the output file.", err))
			return
		}
		if err := svc.ExtractAudio(c.Request.Context(), file.Path, output, nil); err != nil {
			apperr.Respond(c, MapError(err))
			return
		}
		deliver(c, output, OperationExtractAudio)
	}
}

func intakeVideo(c *gin.Context, ws *workspace.Workspace, opts HandlerOptions) (*workspace.Form, *workspace.UploadedFile, bool) {
	form, err := ws.Intake(c.Request, workspace.Rules{
		Files: map[string]workspace.FileRule{
			fieldVideo: {
				MaxSize:   opts.MaxFileSize,
				MIMETypes: videoMIMETypes,
				TypeError: "Invalid file format. Please upload a valid video file.",
			},
		},
	})
	if err != nil {
		apperr.Respond(c, err)
		return nil, nil, false
	}
	file := form.File(fieldVideo)
	if file == nil {
		apperr.Respond(c, apperr.InvalidInput("No file uploaded"))
		return nil, nil, false
	}
	return form, file, true
}

func parseOptions(form *workspace.Form) (Options, error) {
	quality := valueOr(form.Value("quality"), "720")
	fps := valueOr(form.Value("fps"), "30")
	bitrate := valueOr(form.Value("bitrate"), "1M")

	height, err := strconv.Atoi(quality)
	if err != nil || height <= 0 || height > 4320 {
		return Options{}, apperr.InvalidInput("Invalid quality value. Please provide a target height such as 720 or 1080.")
	}
	rate, err := strconv.Atoi(fps)
	if err != nil || rate <= 0 || rate > 240 {
		return Options{}, apperr.InvalidInput("Invalid fps value.")
	}
	if !bitratePattern.MatchString(bitrate) {
		return Options{}, apperr.InvalidInput("Invalid bitrate value. Use a value such as 800k or 2M.")
	}
	return Options{TargetHeight: height, FPS: rate, Bitrate: bitrate}, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func enqueue(c *gin.Context, svc *Service, ws *workspace.Workspace, scheduler JobScheduler, op Operation, file *workspace.UploadedFile, params Options) {
	if _, err := svc.PrepareJob(ws, op, file, params); err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := ws.HandOff(); err != nil {
		apperr.Respond(c, apperr.Internal("Failed to prepare the job.", err))
		return
	}
	if err := scheduler.Schedule(c.Request.Context(), op, ws.ID); err != nil {
		svc.logger.Error().Err(err).Str("jobId", ws.ID).Msg("failed to enqueue job")
		if discardErr := svc.DiscardJob(ws.ID); discardErr != nil {
			svc.logger.Warn().Err(discardErr).Str("jobId", ws.ID).Msg("failed to discard job workspace")
		}
		apperr.Respond(c, apperr.Internal("Failed to enqueue the job.", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  ws.ID,
		"status": "queued",
	})
}

func deliver(c *gin.Context, output string, op Operation) {
	out := operationOutput[op]
	if err := workspace.Deliver(c, output, downloadName(op, time.Now()), out.contentType); err != nil {
		apperr.Respond(c, apperr.Internal("Error downloading file", err))
	}
}
