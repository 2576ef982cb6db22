// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/file-forge/internal/auth"
	"github.com/yourusername/file-forge/internal/bgremove"
	"github.com/yourusername/file-forge/internal/config"
	"github.com/yourusername/file-forge/internal/contacts"
	"github.com/yourusername/file-forge/internal/convert"
	"github.com/yourusername/file-forge/internal/convertapi"
	"github.com/yourusername/file-forge/internal/formats"
	"github.com/yourusername/file-forge/internal/jobs"
	"github.com/yourusername/file-forge/internal/ocr"
	"github.com/yourusername/file-forge/internal/ocr/tesseract"
	"github.com/yourusername/file-forge/internal/pdf"
	"github.com/yourusername/file-forge/internal/video"
	"github.com/yourusername/file-forge/internal/workspace"
)

// app はルーティングに必要な依存をまとめたものです。
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	workspaces *workspace.Manager
	contacts   *contacts.Store
	video      *video.Service
	jobs       *jobs.Manager
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	wsm, err := workspace.NewManager(cfg.TempDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare temp directory")
	}

	contactStore, err := contacts.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open contact database")
	}
	defer contactStore.Close()

	videoService := video.NewService(
		&video.FFprobe{Path: cfg.FFprobePath},
		&video.FFmpeg{Path: cfg.FFmpegPath, Timeout: cfg.TranscodeTimeout},
		nil,
		wsm,
		logger,
	)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		workspaces: wsm,
		contacts:   contactStore,
		video:      videoService,
	}

	// Redis が設定されている場合だけ大きな動画を非同期ジョブにする
	if cfg.QueueRedisURL != "" {
		manager, err := setupJobs(cfg, videoService, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up job queue")
		}
		manager.StartWorkers()
		a.jobs = manager
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"x-conversion-type",
	}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id", "X-Total-Pages"}
	router.Use(cors.New(corsConfig))

	a.setupRoutes(router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if a.jobs != nil {
		go a.sweepLoop(ctx)
	}

	listener, err := listenFirstFree(cfg.Port, cfg.PortSearchLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("no free port available")
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
		if a.jobs != nil {
			if err := a.jobs.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("job queue shutdown failed")
			}
		}
	}()

	logger.Info().Str("addr", listener.Addr().String()).Str("mode", cfg.GinMode).Msg("starting API server")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "file-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func (a *app) setupRoutes(router *gin.Engine) {
	cfg := a.cfg
	router.GET("/health", handleHealth)
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Welcome to the Main Page")
	})

	convertService := convert.NewService(
		formats.Default(),
		convertapi.NewClient(cfg.ConvertAPIBaseURL, cfg.ConvertAPISecret, convertapi.WithTimeout(cfg.ExternalTimeout)),
		nil,
		a.logger,
	)
	pdfService := pdf.NewService(a.logger)
	pdfOpts := pdf.HandlerOptions{MaxFileSize: cfg.MaxPDFFileSize}
	remover := bgremove.NewClient(cfg.RemoveBGURL, cfg.RemoveBGAPIKey, cfg.ExternalTimeout, a.logger)

	videoOpts := video.HandlerOptions{MaxFileSize: cfg.MaxVideoFileSize}
	if a.jobs != nil {
		videoOpts.Scheduler = &videoJobScheduler{manager: a.jobs}
		videoOpts.AsyncThresholdBytes = cfg.AsyncThresholdBytes
	}

	// セッション署名鍵が無い場合は管理者ログインを無効にする
	creds := auth.Credentials{Username: cfg.AdminUsername, PasswordHash: cfg.AdminPasswordHash}
	if cfg.SessionSecret == "" {
		a.logger.Warn().Msg("SESSION_SECRET is not set; admin login is disabled")
		creds = auth.Credentials{}
	}
	guard := auth.NewGuard(creds, a.logger)

	api := router.Group("/api")
	{
		api.POST("/convert", convert.Handler(convertService, a.workspaces, convert.HandlerOptions{MaxFileSize: cfg.MaxConvertFileSize}))
		api.GET("/convert/formats", convert.FormatsHandler(convertService))

		videoRoutes := api.Group("/video")
		{
			videoRoutes.POST("/process-video", video.ProcessVideoHandler(a.video, videoOpts))
			videoRoutes.POST("/extract-audio", video.ExtractAudioHandler(a.video, videoOpts))
		}

		pdfRoutes := api.Group("/pdf")
		{
			pdfRoutes.POST("/merge", pdf.MergeHandler(pdfService, a.workspaces, pdfOpts))
			pdfRoutes.POST("/split", pdf.SplitHandler(pdfService, a.workspaces, pdfOpts))
			pdfRoutes.POST("/inspect", pdf.InspectHandler(pdfService, a.workspaces, pdfOpts))
		}

		api.POST("/remove-background", bgremove.Handler(remover, a.workspaces, bgremove.HandlerOptions{MaxFileSize: cfg.MaxImageFileSize}))
		api.POST("/text-extractor/extract-text", ocr.Handler(newOCREngine(cfg), a.workspaces, ocr.HandlerOptions{MaxFileSize: cfg.MaxOCRFileSize}, a.logger))

		if a.jobs != nil {
			api.GET("/jobs/:id", jobStatusHandler(a.jobs))
			api.GET("/jobs/:id/download", jobDownloadHandler(a.video))
		}

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", guard.Login)
			authRoutes.POST("/logout", guard.RequireLogin(), guard.Logout)
		}

		// お問い合わせの送信は誰でも可能、一覧は管理者のみ
		api.POST("/contacts", contacts.SubmitHandler(a.contacts, a.logger))
		api.GET("/contacts", guard.RequireLogin(), contacts.ListHandler(a.contacts, a.logger))
	}
}

func newOCREngine(cfg *config.Config) ocr.Engine {
	if cfg.OCREngine == "tesseract" {
		return tesseract.NewEngine(cfg.OCRLanguage)
	}
	return ocr.NewNinjasEngine(cfg.NinjaOCRURL, cfg.NinjaAPIKey, cfg.ExternalTimeout)
}

// listenFirstFree は start から順に空いているポートを探して Listen します。
func listenFirstFree(start, attempts int) (net.Listener, error) {
	var lastErr error
	for port := start; port < start+attempts && port <= 65535; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("ports %d-%d are all in use: %w", start, start+attempts-1, lastErr)
}

// sweepLoop は受け取られなかったジョブの成果物と放置されたワークスペースを定期的に削除します。
func (a *app) sweepLoop(ctx context.Context) {
	maxAge := time.Duration(a.cfg.JobExpireMinutes) * time.Minute
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.workspaces.Sweep(maxAge)
			if err != nil {
				a.logger.Warn().Err(err).Msg("workspace sweep failed")
				continue
			}
			if removed > 0 {
				a.logger.Info().Int("removed", removed).Msg("expired workspaces removed")
			}
		}
	}
}
