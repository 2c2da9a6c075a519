package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Migration MigrationConfig `mapstructure:"migration"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// CalendarConfig 游戏周配置（周一 07:00 刷新）
type CalendarConfig struct {
	AnchorWeekday int    `mapstructure:"anchor_weekday"` // 1=周一 ... 7=周日
	AnchorHour    int    `mapstructure:"anchor_hour"`
	Timezone      string `mapstructure:"timezone"` // 空则使用本地时区
}

// ServerConfig 本地 HTTP 配置
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MigrationConfig 迁移配置
type MigrationConfig struct {
	RollbackOnFailure bool `mapstructure:"rollback_on_failure"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("DUNGEON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	if cfg.App.LogPath != "" {
		cfg.App.LogPath = resolvePath(cfg.App.LogPath)
	}

	return &cfg, nil
}

// Default 返回默认配置（用于首次启动写出 config.yaml）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Calendar.AnchorWeekday < 1 || c.Calendar.AnchorWeekday > 7 {
		return fmt.Errorf("calendar.anchor_weekday 必须在 1-7 之间: %d", c.Calendar.AnchorWeekday)
	}
	if c.Calendar.AnchorHour < 0 || c.Calendar.AnchorHour > 23 {
		return fmt.Errorf("calendar.anchor_hour 必须在 0-23 之间: %d", c.Calendar.AnchorHour)
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return fmt.Errorf("storage.db_path 不能为空")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "dungeon-agent")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_path", "")

	// Storage
	v.SetDefault("storage.db_path", "./data/dungeon.db")

	// Calendar
	v.SetDefault("calendar.anchor_weekday", 1)
	v.SetDefault("calendar.anchor_hour", 7)
	v.SetDefault("calendar.timezone", "")

	// Server
	v.SetDefault("server.listen_addr", "127.0.0.1:17380")

	// Metrics
	v.SetDefault("metrics.enabled", true)

	// Migration
	v.SetDefault("migration.rollback_on_failure", true)
}

// resolvePath 解析相对路径为绝对路径
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}

	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}
