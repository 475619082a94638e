// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/DramaForge/internal/api"
	"github.com/Corphon/DramaForge/internal/config"
	"github.com/Corphon/DramaForge/internal/di"
	"github.com/Corphon/DramaForge/internal/media"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/storyboard"
	"github.com/Corphon/DramaForge/internal/utils"

	// 注册全部文本模型厂商
	_ "github.com/Corphon/DramaForge/internal/llm/providers"
)

const (
	shutdownTimeout   = 30 * time.Second
	metricsInterval   = 5 * time.Minute
	blobCacheTTL      = 10 * time.Minute
	readHeaderTimeout = 10 * time.Second
)

// server 便于测试替换 http.Server
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   server
	stopChan chan os.Signal
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp 获取应用实例（单例）
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 按顺序初始化配置、日志、服务和路由
func Initialize(base *config.Config) error {
	if err := createDirectories(base); err != nil {
		return err
	}
	if err := config.InitConfig(base); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(base.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}
	if err := utils.GetLogger().SetLogLevel(base.LogLevel); err != nil {
		utils.GetLogger().Warn("invalid log level, keep default", map[string]interface{}{"level": base.LogLevel})
	}

	if err := InitServices(base); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter(base)
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.server = &http.Server{
		Addr:              ":" + base.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

func createDirectories(base *config.Config) error {
	dirs := []string{base.DataDir, base.LogDir, filepath.Dir(base.DBPath)}
	if base.BlobBackend != "s3" {
		dirs = append(dirs, base.BlobDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

// initLogger 按日期写入日志文件
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("dramaforge_%s.log", time.Now().Format("2006-01-02"))
	return utils.InitLogger(filepath.Join(logDir, name))
}

// OpenDatabase 打开数据库、迁移并写入默认提示词
func OpenDatabase(ctx context.Context, dbPath string) (*storage.DB, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := storage.NewPromptStore(db).Seed(ctx, storage.DefaultPrompts()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewBlobStore 按配置选择本地目录或 S3，外层加读缓存
func NewBlobStore(base *config.Config) (storage.BlobStore, error) {
	var inner storage.BlobStore
	switch base.BlobBackend {
	case "s3":
		s3, err := storage.NewS3Storage(storage.S3Config{
			Bucket:        base.S3Bucket,
			Region:        base.S3Region,
			Endpoint:      base.S3Endpoint,
			AccessKey:     base.S3AccessKey,
			SecretKey:     base.S3SecretKey,
			PublicBaseURL: base.BlobPublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		inner = s3
	case "", "local":
		fs, err := storage.NewFileStorage(base.BlobDir(), base.BlobPublicBaseURL)
		if err != nil {
			return nil, err
		}
		inner = fs
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", base.BlobBackend)
	}
	return storage.NewCachedBlobStore(inner, blobCacheTTL), nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices(base *config.Config) error {
	container := di.GetContainer()
	ctx := context.Background()

	// 1. 存储
	db, err := OpenDatabase(ctx, base.DBPath)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	container.Register(di.ServiceDB, db)

	projects := storage.NewProjectStore(db)
	outlines := storage.NewOutlineStore(db)
	assets := storage.NewAssetStore(db)
	prompts := storage.NewPromptStore(db)
	container.Register(di.ServiceProjects, projects)
	container.Register(di.ServiceOutlines, outlines)
	container.Register(di.ServiceAssets, assets)
	container.Register(di.ServicePrompts, prompts)

	blobs, err := NewBlobStore(base)
	if err != nil {
		return fmt.Errorf("初始化对象存储失败: %w", err)
	}
	container.Register(di.ServiceBlobs, blobs)

	// 2. 模型服务
	llmService := services.NewLLMService()
	imageService := services.NewImageService(base.ImageRatePerMinute)
	container.Register(di.ServiceLLM, llmService)
	container.Register(di.ServiceImage, imageService)
	container.Register(di.ServiceConfig, services.NewConfigService(llmService, imageService))

	// 3. 业务服务
	locks := services.NewLockManager()
	container.Register(di.ServiceLocks, locks)
	container.Register(di.ServiceAsset, services.NewAssetService(outlines, assets, locks))

	limits := media.DefaultLimits()
	if base.ImageMaxBytes > 0 {
		limits.PerImage = base.ImageMaxBytes
	}
	if base.ImageTotalMaxBytes > 0 {
		limits.Total = base.ImageTotalMaxBytes
	}
	if base.ImageConcurrency > 0 {
		limits.Concurrency = base.ImageConcurrency
	}
	generator := storyboard.NewGenerator(projects, outlines, assets, blobs, imageService,
		storyboard.NewComposer(llmService, prompts), storyboard.NewFilter(llmService), limits)
	container.Register(di.ServiceGenerator, generator)

	utils.GetLogger().Info("services initialized", map[string]interface{}{
		"services":  container.GetNames(),
		"llm_ready": llmService.IsReady(),
		"image":     imageService.GetReadyState(),
		"blob":      base.BlobBackend,
	})
	return nil
}

// Run 启动服务器并在收到信号后优雅关闭
func Run() error {
	app := GetApp()
	if app.server == nil {
		return errors.New("应用未初始化")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	utils.NewPipelineMetrics().StartMetricsCollection(ctx, metricsInterval)

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	serverErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	if app.config != nil {
		utils.GetLogger().Info("server started", map[string]interface{}{"port": app.config.Port})
	}

	var runErr error
	select {
	case sig := <-app.stopChan:
		utils.GetLogger().Info("shutting down", map[string]interface{}{"signal": sig.String()})
	case runErr = <-serverErr:
		utils.GetLogger().Error("server stopped unexpectedly", map[string]interface{}{"error": runErr.Error()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("服务器关闭失败: %w", err)
	}

	app.cleanup()
	return runErr
}

// cleanup 关闭容器中的服务：会话 → 锁管理器 → 数据库
func (a *App) cleanup() {
	if err := di.GetContainer().Shutdown(); err != nil {
		utils.GetLogger().Warn("service shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	utils.GetLogger().Info("cleanup finished", nil)
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 检查是否为调试模式
func IsDebugMode() bool {
	instanceMu.Lock()
	app := instance
	instanceMu.Unlock()
	return app != nil && app.config != nil && app.config.DebugMode
}
