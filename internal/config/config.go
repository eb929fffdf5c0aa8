// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/StoryboardSync/internal/utils"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port       string `json:"port" env:"PORT" envDefault:"8080"`
	DataDir    string `json:"data_dir" env:"DATA_DIR" envDefault:"data"`
	DBPath     string `json:"db_path" env:"DB_PATH"`
	UploadsDir string `json:"uploads_dir" env:"UPLOADS_DIR"`
	LogDir     string `json:"log_dir" env:"LOG_DIR" envDefault:"logs"`
	DebugMode  bool   `json:"debug_mode" env:"DEBUG_MODE" envDefault:"false"`

	// 同步相关配置
	DefaultStoryboardID string        `json:"default_storyboard_id,omitempty" env:"DEFAULT_STORYBOARD_ID"`
	EchoToOrigin        bool          `json:"echo_to_origin" env:"ECHO_TO_ORIGIN" envDefault:"false"`
	WSPingTimeout       time.Duration `json:"ws_ping_timeout" env:"WS_PING_TIMEOUT" envDefault:"60s"`

	// 视频生成相关配置
	MaxMultiShotItems      int           `json:"max_multi_shot_items" env:"MAX_MULTI_SHOT_ITEMS" envDefault:"6"`
	GenerationWorkers      int           `json:"generation_workers" env:"GENERATION_WORKERS" envDefault:"2"`
	GenerationPollInterval time.Duration `json:"generation_poll_interval" env:"GENERATION_POLL_INTERVAL" envDefault:"5s"`
	GenerationMaxPolls     int           `json:"generation_max_polls" env:"GENERATION_MAX_POLLS" envDefault:"120"`
	VideoProvider          string        `json:"video_provider" env:"VIDEO_PROVIDER" envDefault:"kling"`
	VideoAPIBaseURL        string        `json:"video_api_base_url" env:"VIDEO_API_BASE_URL" envDefault:"https://api-beijing.klingai.com"`
	VideoAccessKey         string        `json:"video_access_key,omitempty" env:"VIDEO_ACCESS_KEY"`
	VideoSecretKey         string        `json:"-" env:"VIDEO_SECRET_KEY"`
	FFprobePath            string        `json:"ffprobe_path" env:"FFPROBE_PATH" envDefault:"ffprobe"`

	// 配置文件中加密保存的密钥，只在读写文件时使用
	EncryptedSecretKey string `json:"video_secret_key_encrypted,omitempty"`
	ConfigSecret       string `json:"-" env:"CONFIG_SECRET"`
}

// Load 从环境变量加载配置
func Load() (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults 补齐依赖其他字段的默认值
func (c *AppConfig) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "storyboard.db")
	}
	if c.UploadsDir == "" {
		c.UploadsDir = filepath.Join(c.DataDir, "uploads")
	}
	if c.MaxMultiShotItems <= 0 {
		c.MaxMultiShotItems = 6
	}
	if c.GenerationWorkers <= 0 {
		c.GenerationWorkers = 1
	}
	if c.GenerationPollInterval <= 0 {
		c.GenerationPollInterval = 5 * time.Second
	}
	if c.GenerationMaxPolls <= 0 {
		c.GenerationMaxPolls = 120
	}
	if c.WSPingTimeout <= 0 {
		c.WSPingTimeout = 60 * time.Second
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = baseConfig

	// 尝试从文件加载已保存的生成配置
	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil {
			mergeSaved(currentConfig, &saved)
		} else {
			log.Printf("⚠️ 配置文件 %s 解析失败，使用环境变量配置", configFile)
		}
	}

	if currentConfig.VideoAccessKey == "" || currentConfig.VideoSecretKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置视频生成密钥，需要在设置接口中配置后才能使用批量生成")
	}

	// 保存初始配置到文件
	return saveLocked()
}

// mergeSaved 文件中的生成设置覆盖环境变量，基础配置始终以环境变量为准
func mergeSaved(cfg, saved *AppConfig) {
	if saved.VideoProvider != "" {
		cfg.VideoProvider = saved.VideoProvider
	}
	if saved.VideoAPIBaseURL != "" {
		cfg.VideoAPIBaseURL = saved.VideoAPIBaseURL
	}
	if saved.VideoAccessKey != "" {
		cfg.VideoAccessKey = saved.VideoAccessKey
	}
	if saved.EncryptedSecretKey != "" && cfg.ConfigSecret != "" {
		secret, err := utils.Decrypt(saved.EncryptedSecretKey, cfg.ConfigSecret)
		if err != nil {
			log.Printf("⚠️ 无法解密已保存的视频生成密钥: %v", err)
			return
		}
		cfg.VideoSecretKey = secret
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，直接从环境变量构造
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &AppConfig{Port: "8080", DataDir: "data", LogDir: "logs"}
			baseConfig.applyDefaults()
		}
		return baseConfig
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// SetCurrentConfig 直接替换当前配置，测试与嵌入场景使用
func SetCurrentConfig(cfg *AppConfig) {
	configMutex.Lock()
	defer configMutex.Unlock()

	c := *cfg
	c.applyDefaults()
	currentConfig = &c
}

// GenerationSettings 视频生成设置，对外展示时隐藏密钥
type GenerationSettings struct {
	Provider      string `json:"provider"`
	APIBaseURL    string `json:"api_base_url"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key,omitempty"`
	HasSecretKey  bool   `json:"has_secret_key"`
	SecretPersist bool   `json:"secret_persisted"`
}

// GetGenerationSettings 返回脱敏后的生成设置
func GetGenerationSettings() GenerationSettings {
	cfg := GetCurrentConfig()
	return GenerationSettings{
		Provider:      cfg.VideoProvider,
		APIBaseURL:    cfg.VideoAPIBaseURL,
		AccessKey:     maskKey(cfg.VideoAccessKey),
		HasSecretKey:  cfg.VideoSecretKey != "",
		SecretPersist: cfg.ConfigSecret != "",
	}
}

// UpdateGenerationConfig 更新视频生成配置，空字段保持不变
func UpdateGenerationConfig(settings GenerationSettings) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if settings.Provider != "" {
		currentConfig.VideoProvider = settings.Provider
	}
	if settings.APIBaseURL != "" {
		currentConfig.VideoAPIBaseURL = settings.APIBaseURL
	}
	if settings.AccessKey != "" {
		currentConfig.VideoAccessKey = settings.AccessKey
	}
	if settings.SecretKey != "" {
		currentConfig.VideoSecretKey = settings.SecretKey
	}

	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}
	if configFile == "" {
		return nil
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	toSave := *currentConfig
	toSave.EncryptedSecretKey = ""
	if toSave.VideoSecretKey != "" {
		if toSave.ConfigSecret == "" {
			log.Println("⚠️ 未设置 CONFIG_SECRET，视频生成密钥不会写入配置文件")
		} else {
			encrypted, err := utils.Encrypt(toSave.VideoSecretKey, toSave.ConfigSecret)
			if err != nil {
				return fmt.Errorf("加密密钥失败: %w", err)
			}
			toSave.EncryptedSecretKey = encrypted
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(&toSave, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0600)
}

func maskKey(key string) string {
	if len(key) <= 6 {
		if key == "" {
			return ""
		}
		return "******"
	}
	return key[:3] + "******" + key[len(key)-3:]
}
