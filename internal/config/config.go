// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"github.com/Corphon/DramaForge/internal/utils"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	configSecret  string
)

// ModelConfig 一个厂商的模型配置（文本或图像）
type ModelConfig struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url,omitempty"`
}

// Params 转换为 Provider.Initialize 使用的键值配置
func (m ModelConfig) Params() map[string]string {
	return map[string]string{
		"api_key":       m.APIKey,
		"default_model": m.Model,
		"base_url":      m.BaseURL,
	}
}

// AppConfig 持久化到 config.json 的运行期配置
type AppConfig struct {
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	StaticDir string `json:"static_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 文本模型：agent 对话、提示词编排、资产筛选
	LLM ModelConfig `json:"llm"`
	// 图像模型：宫格图生成
	Image ModelConfig `json:"image"`
}

// Config 进程启动配置，来自 .env / 环境变量 / 命令行
type Config struct {
	Port      string
	DataDir   string
	StaticDir string
	LogDir    string
	LogLevel  string
	DebugMode bool
	DBPath    string

	// 对象存储
	BlobBackend       string // local | s3
	BlobPublicBaseURL string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string

	// 图像管线
	ImageMaxBytes      int
	ImageTotalMaxBytes int
	ImageConcurrency   int
	ImageRatePerMinute int

	// 用于加密 config.json 中的 API 密钥
	ConfigSecret string

	// 环境变量中的默认模型配置
	LLMManufacturer   string
	LLMModel          string
	LLMAPIKey         string
	LLMBaseURL        string
	ImageManufacturer string
	ImageModel        string
	ImageAPIKey       string
	ImageBaseURL      string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	dataDir := getEnvPath("DATA_DIR", "data")
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   dataDir,
		StaticDir: getEnv("STATIC_DIR", "static"),
		LogDir:    getEnvPath("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		DebugMode: getEnvBool("DEBUG_MODE", false),
		DBPath:    getEnv("DB_PATH", filepath.Join(dataDir, "dramaforge.db")),

		BlobBackend:       getEnv("BLOB_BACKEND", "local"),
		BlobPublicBaseURL: getEnv("BLOB_PUBLIC_BASE_URL", "/files"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),

		ImageMaxBytes:      getEnvInt("IMAGE_MAX_BYTES", 3*1024*1024),
		ImageTotalMaxBytes: getEnvInt("IMAGE_TOTAL_MAX_BYTES", 10*1024*1024),
		ImageConcurrency:   getEnvInt("IMAGE_CONCURRENCY", 4),
		ImageRatePerMinute: getEnvInt("IMAGE_RATE_PER_MINUTE", 20),

		ConfigSecret: getEnv("CONFIG_SECRET", "dramaforge-local-secret"),

		LLMManufacturer:   getEnv("LLM_MANUFACTURER", "openai"),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o"),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		ImageManufacturer: getEnv("IMAGE_MANUFACTURER", "gemini"),
		ImageModel:        getEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
		ImageAPIKey:       getEnv("IMAGE_API_KEY", ""),
		ImageBaseURL:      getEnv("IMAGE_BASE_URL", ""),
	}

	if cfg.LLMAPIKey == "" {
		utils.GetLogger().Warn("未设置文本模型 API 密钥，需要在设置接口中配置后才能使用 agent", nil)
	}

	return cfg, nil
}

// BlobDir 本地对象存储目录
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "files")
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取路径并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			utils.GetLogger().Warn("创建目录失败", map[string]interface{}{"path": path, "error": err.Error()})
		}
	}

	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// InitConfig 合并启动配置与 config.json 中保存的模型配置
func InitConfig(base *Config) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(base.DataDir, "config.json")
	configSecret = base.ConfigSecret

	cfg := &AppConfig{
		Port:      base.Port,
		DataDir:   base.DataDir,
		StaticDir: base.StaticDir,
		LogDir:    base.LogDir,
		DebugMode: base.DebugMode,
		LLM: ModelConfig{
			Manufacturer: base.LLMManufacturer,
			Model:        base.LLMModel,
			APIKey:       base.LLMAPIKey,
			BaseURL:      base.LLMBaseURL,
		},
		Image: ModelConfig{
			Manufacturer: base.ImageManufacturer,
			Model:        base.ImageModel,
			APIKey:       base.ImageAPIKey,
			BaseURL:      base.ImageBaseURL,
		},
	}

	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil {
			// 文件中的模型配置优先，密钥为空时回退到环境变量
			if saved.LLM.Manufacturer != "" {
				if saved.LLM.APIKey == "" {
					saved.LLM.APIKey = cfg.LLM.APIKey
				}
				cfg.LLM = saved.LLM
			}
			if saved.Image.Manufacturer != "" {
				if saved.Image.APIKey == "" {
					saved.Image.APIKey = cfg.Image.APIKey
				}
				cfg.Image = saved.Image
			}
		}
	}

	var err error
	if cfg.LLM.APIKey, err = utils.DecryptSecret(cfg.LLM.APIKey, configSecret); err != nil {
		return fmt.Errorf("解密文本模型密钥失败: %w", err)
	}
	if cfg.Image.APIKey, err = utils.DecryptSecret(cfg.Image.APIKey, configSecret); err != nil {
		return fmt.Errorf("解密图像模型密钥失败: %w", err)
	}

	currentConfig = cfg
	return saveLocked()
}

// GetCurrentConfig 返回当前配置的副本（密钥为明文）
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return &AppConfig{}
	}
	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新文本模型配置
func UpdateLLMConfig(mc ModelConfig) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}
	currentConfig.LLM = mc
	return saveLocked()
}

// UpdateImageConfig 更新图像模型配置
func UpdateImageConfig(mc ModelConfig) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}
	currentConfig.Image = mc
	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

// saveLocked 写盘前加密密钥，调用方持有写锁
func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	onDisk := *currentConfig
	var err error
	if onDisk.LLM.APIKey, err = utils.EncryptSecret(onDisk.LLM.APIKey, configSecret); err != nil {
		return err
	}
	if onDisk.Image.APIKey, err = utils.EncryptSecret(onDisk.Image.APIKey, configSecret); err != nil {
		return err
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	tmp := configFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, configFile)
}
