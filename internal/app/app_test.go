// internal/app/app_test.go
package app

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/DramaForge/internal/config"
	"github.com/Corphon/DramaForge/internal/di"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/storyboard"
)

// 测试前的设置工作
func setupTest(t *testing.T) *config.Config {
	t.Helper()
	instance = nil
	di.GetContainer().Clear()

	dir := t.TempDir()
	t.Cleanup(func() {
		if db, ok := di.GetContainer().Get(di.ServiceDB).(*storage.DB); ok {
			db.Close()
		}
		di.GetContainer().Clear()
		instance = nil
	})
	return &config.Config{
		Port:               "0",
		DataDir:            filepath.Join(dir, "data"),
		LogDir:             filepath.Join(dir, "logs"),
		LogLevel:           "debug",
		DBPath:             filepath.Join(dir, "data", "test.db"),
		BlobBackend:        "local",
		BlobPublicBaseURL:  "/files",
		ImageRatePerMinute: 0,
		ConfigSecret:       "test-secret",
		LLMManufacturer:    "openai",
		ImageManufacturer:  "gemini",
	}
}

// mockServer 记录 Shutdown 调用
type mockServer struct {
	shutdownCalled bool
}

func (m *mockServer) ListenAndServe() error {
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	return nil
}

func TestGetApp(t *testing.T) {
	instance = nil

	app1 := GetApp()
	require.NotNil(t, app1)
	assert.Same(t, app1, GetApp())
	assert.NotNil(t, app1.stopChan)
}

func TestInitializeRegistersServices(t *testing.T) {
	base := setupTest(t)

	require.NoError(t, Initialize(base))

	app := GetApp()
	require.NotNil(t, app.config)
	require.NotNil(t, app.router)
	require.NotNil(t, app.server)

	container := GetDIContainer()
	for _, name := range []string{
		di.ServiceDB, di.ServiceProjects, di.ServiceOutlines, di.ServiceAssets, di.ServicePrompts,
		di.ServiceBlobs, di.ServiceLLM, di.ServiceImage, di.ServiceConfig, di.ServiceAsset,
		di.ServiceLocks, di.ServiceGenerator, di.ServiceAPI,
	} {
		assert.True(t, container.Has(name), name)
	}
	_, err := di.Resolve[*storyboard.Generator](container, di.ServiceGenerator)
	assert.NoError(t, err)

	// 默认提示词已写入
	prompts, err := di.Resolve[*storage.PromptStore](container, di.ServicePrompts)
	require.NoError(t, err)
	value, err := prompts.Resolve(context.Background(), storage.PromptOutlineMain)
	require.NoError(t, err)
	assert.NotEmpty(t, value)

	// 目录与日志文件
	assert.DirExists(t, base.BlobDir())
	files, _ := os.ReadDir(base.LogDir)
	assert.NotEmpty(t, files)

	app.cleanup()
}

func TestNewBlobStoreRejectsUnknownBackend(t *testing.T) {
	base := setupTest(t)
	base.BlobBackend = "ftp"
	_, err := NewBlobStore(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported blob backend")

	base.BlobBackend = "s3"
	_, err = NewBlobStore(base)
	require.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "custom_logs")

	require.NoError(t, initLogger(logDir))
	assert.DirExists(t, logDir)
	files, _ := os.ReadDir(logDir)
	assert.NotEmpty(t, files)
}

func TestRun(t *testing.T) {
	setupTest(t)

	testApp := &App{
		config:   &config.AppConfig{Port: "8081"},
		stopChan: make(chan os.Signal, 1),
	}
	instance = testApp
	mockSrv := &mockServer{}
	testApp.server = mockSrv

	go func() {
		time.Sleep(100 * time.Millisecond)
		testApp.stopChan <- syscall.SIGTERM
	}()

	require.NoError(t, Run())
	assert.True(t, mockSrv.shutdownCalled)
}

func TestRunWithoutInitialize(t *testing.T) {
	setupTest(t)
	instance = &App{stopChan: make(chan os.Signal, 1)}
	assert.Error(t, Run())
}

func TestGetConfig(t *testing.T) {
	testConfig := &config.AppConfig{Port: "9000", DebugMode: true}
	testApp := &App{config: testConfig}
	assert.Same(t, testConfig, testApp.GetConfig())
}

func TestGetDIContainer(t *testing.T) {
	assert.Same(t, di.GetContainer(), GetDIContainer())
}

func TestIsDebugMode(t *testing.T) {
	t.Cleanup(func() { instance = nil })

	instance = nil
	assert.False(t, IsDebugMode())

	testApp := &App{}
	instance = testApp
	assert.False(t, IsDebugMode())

	testApp.config = &config.AppConfig{DebugMode: true}
	assert.True(t, IsDebugMode())

	testApp.config.DebugMode = false
	assert.False(t, IsDebugMode())
}
