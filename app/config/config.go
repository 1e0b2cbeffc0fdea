package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	MaxUploadSizeMB int64  `mapstructure:"max_upload_size_mb"` // 上传大小上限（MiB）
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type ProcessingConfig struct {
	Root          string  `mapstructure:"root"`           // 处理根目录，uploads/、output/、frames-* 都在其下
	MaxConcurrent int     `mapstructure:"max_concurrent"` // 同时处理的任务数上限
	Tolerance     float64 `mapstructure:"tolerance"`      // chromakey 容差（0~1）
	Blend         float64 `mapstructure:"blend"`          // chromakey 边缘混合（0~1）
	SampleFPS     float64 `mapstructure:"sample_fps"`     // 分析时抽帧的帧率
	FFmpegPath    string  `mapstructure:"ffmpeg_path"`    // ffmpeg 可执行文件路径
	JanitorCron   string  `mapstructure:"janitor_cron"`   // 临时文件清扫的 cron 表达式
}

type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`     // 任务结束后回调的地址，留空则不通知
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 回调请求超时时间（秒）
}

// MaxUploadSize 返回以字节为单位的上传大小上限
func (c ServerConfig) MaxUploadSize() int64 {
	return c.MaxUploadSizeMB << 20
}

func Load() *Config {
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.max_upload_size_mb", 50)

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 处理默认配置
	viper.SetDefault("processing.root", "data/processing")
	viper.SetDefault("processing.max_concurrent", 1)
	viper.SetDefault("processing.tolerance", 0.10)
	viper.SetDefault("processing.blend", 0.05)
	viper.SetDefault("processing.sample_fps", 1.0)
	viper.SetDefault("processing.ffmpeg_path", "ffmpeg")
	viper.SetDefault("processing.janitor_cron", "@hourly")

	// 回调默认配置
	viper.SetDefault("notify.webhook_url", "")
	viper.SetDefault("notify.timeout_seconds", 10)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("上传大小上限必须大于 0")
	}
	if config.Processing.Root == "" {
		return fmt.Errorf("处理根目录未设置")
	}
	if config.Processing.MaxConcurrent <= 0 {
		config.Processing.MaxConcurrent = 1 // 默认 1 个并发
	}
	if config.Processing.Tolerance < 0 || config.Processing.Tolerance > 1 {
		return fmt.Errorf("chromakey 容差必须在 0~1 之间")
	}
	if config.Processing.Blend < 0 || config.Processing.Blend > 1 {
		return fmt.Errorf("chromakey 混合必须在 0~1 之间")
	}
	return nil
}
