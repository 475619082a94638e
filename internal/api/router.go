// internal/api/router.go
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Corphon/DramaForge/internal/config"
	"github.com/Corphon/DramaForge/internal/di"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/storyboard"
	"github.com/Corphon/DramaForge/internal/utils"
)

// RouterOptions 路由的外部配置
type RouterOptions struct {
	DebugMode bool
	StaticDir string // 前端静态文件目录，可为空

	// 本地对象存储目录与其 URL 前缀；s3 时 BlobDir 为空
	BlobDir     string
	BlobBaseURL string

	RatePerSecond float64
	RateBurst     int
}

// SetupRouter 从容器取出服务并配置HTTP路由
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	container := di.GetContainer()

	llmService, err := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if err != nil {
		return nil, err
	}
	imageService, err := di.Resolve[*services.ImageService](container, di.ServiceImage)
	if err != nil {
		return nil, err
	}
	configService, err := di.Resolve[*services.ConfigService](container, di.ServiceConfig)
	if err != nil {
		return nil, err
	}
	assetService, err := di.Resolve[*services.AssetService](container, di.ServiceAsset)
	if err != nil {
		return nil, err
	}
	projects, err := di.Resolve[*storage.ProjectStore](container, di.ServiceProjects)
	if err != nil {
		return nil, err
	}
	outlines, err := di.Resolve[*storage.OutlineStore](container, di.ServiceOutlines)
	if err != nil {
		return nil, err
	}
	prompts, err := di.Resolve[*storage.PromptStore](container, di.ServicePrompts)
	if err != nil {
		return nil, err
	}
	blobs, err := di.Resolve[storage.BlobStore](container, di.ServiceBlobs)
	if err != nil {
		return nil, err
	}
	generator, err := di.Resolve[*storyboard.Generator](container, di.ServiceGenerator)
	if err != nil {
		return nil, err
	}

	handler := NewHandler(Handler{
		LLMService:    llmService,
		ImageService:  imageService,
		ConfigService: configService,
		AssetService:  assetService,
		Projects:      projects,
		Outlines:      outlines,
		Prompts:       prompts,
		Generator:     generator,
		Blobs:         blobs,
	})
	container.Register(di.ServiceAPI, handler)

	opts := RouterOptions{
		DebugMode:   cfg.DebugMode,
		StaticDir:   cfg.StaticDir,
		BlobBaseURL: cfg.BlobPublicBaseURL,
	}
	if cfg.BlobBackend != "s3" {
		opts.BlobDir = cfg.BlobDir()
	}
	return NewRouter(handler, opts), nil
}

// NewRouter 注册中间件与全部路由
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaultRatePerSecond
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaultRateBurst
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(utils.NewPipelineMetrics()))
	r.Use(corsMiddleware())

	// 对象存储文件
	if opts.BlobDir != "" && strings.HasPrefix(opts.BlobBaseURL, "/") {
		r.Static(strings.TrimRight(opts.BlobBaseURL, "/"), opts.BlobDir)
	}
	// 前端静态文件
	if opts.StaticDir != "" {
		r.Static("/static", opts.StaticDir)
	}

	// WebSocket
	r.GET("/ws/outline", handler.OutlineWebSocket)
	r.GET("/ws/storyboard", handler.StoryboardWebSocket)

	handler.limiter = NewRateLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst)

	api := r.Group("/api")
	api.Use(handler.limiter.Middleware())
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// ===============================
		// 模型配置
		// ===============================
		settings := api.Group("/settings")
		{
			settings.GET("/llm", handler.GetLLMSettings)
			settings.PUT("/llm", handler.UpdateLLMSettings)
			settings.GET("/image", handler.GetImageSettings)
			settings.PUT("/image", handler.UpdateImageSettings)
			settings.GET("/history", handler.GetSettingsHistory)
		}

		// ===============================
		// 项目数据
		// ===============================
		projects := api.Group("/projects/:id")
		{
			projects.GET("/assets", handler.ListAssets)
			projects.POST("/assets/sync", handler.SyncAssets)
			projects.GET("/outlines", handler.ListOutlines)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		handler.Response.Error(c, http.StatusNotFound, ErrorNotFound, "route not found", c.Request.URL.Path)
	})

	return r
}
