package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/video"
	"github.com/yourusername/file-forge/internal/workspace"
)

// videoJobScheduler は video.JobScheduler を jobs.Manager で実装します。
type videoJobScheduler struct {
	manager *jobs.Manager
}

func (s *videoJobScheduler) Schedule(ctx context.Context, op video.Operation, jobID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:     jobID,
		Operation: op,
	})
	return err
}

func setupJobs(cfg *config.Config, videoService *video.Service, logger zerolog.Logger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, videoService, store, logger)
}

// resultOpener は完了ジョブの成果物を扱います。
type resultOpener interface {
	OpenResult(jobID string) (*video.JobResult, error)
	DiscardJob(jobID string) error
}

// recordGetter はジョブの状態を取得します。
type recordGetter interface {
	GetRecord(ctx context.Context, jobID string) (*jobs.Record, error)
}

func jobStatusHandler(manager recordGetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INPUT",
				"error": "jobId is required",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "Failed to load the job",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":  "JOB_NOT_FOUND",
				"error": "The job does not exist or has expired",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"operation": record.Operation,
			"status":    record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"updatedAt": record.UpdatedAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

// jobDownloadHandler は成果物を返し、返却後にジョブのワークスペースを削除します。
func jobDownloadHandler(results resultOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INPUT",
				"error": "jobId is required",
			})
			return
		}

		result, err := results.OpenResult(jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":  "JOB_RESULT_NOT_FOUND",
					"error": "The job result was not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "Failed to load the job result",
			})
			return
		}
		defer func() { _ = results.DiscardJob(jobID) }()

		c.Header("X-Job-Id", result.JobID)
		if err := workspace.Deliver(c, result.OutputPath, result.OutputFilename, result.ContentType); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "INTERNAL_ERROR",
				"error": "Failed to load the job result",
			})
		}
	}
}
