package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Topology   TopologyConfig   `mapstructure:"topology"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TopologyConfig 拓扑文件配置
type TopologyConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
	// ArchiveBackend 上传拓扑的归档后端：local | minio
	ArchiveBackend string `mapstructure:"archive_backend"`
	ArchiveDir     string `mapstructure:"archive_dir"`
}

// SSHConfig SSH配置
type SSHConfig struct {
	Port           int           `mapstructure:"port"`
	StatusTimeout  time.Duration `mapstructure:"status_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// HostKeyPolicy insecure | tofu | pinned
	HostKeyPolicy  string `mapstructure:"host_key_policy"`
	KnownHostsPath string `mapstructure:"known_hosts_path"`
}

// DispatcherConfig 批量操作配置
type DispatcherConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	TriggerDevice string        `mapstructure:"trigger_device"`
	JobRetention  time.Duration `mapstructure:"job_retention"`
}

// SweepConfig 可达性巡检配置
type SweepConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Count      int           `mapstructure:"count"`
	Privileged bool          `mapstructure:"privileged"`
}

// MonitorConfig 周期性状态刷新
type MonitorConfig struct {
	StatusRefresh         bool          `mapstructure:"status_refresh"`
	StatusRefreshInterval time.Duration `mapstructure:"status_refresh_interval"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	// HistoryRetention 操作记录与告警的保留时长，<=0 表示不清理
	HistoryRetention time.Duration `mapstructure:"history_retention"`
	// PruneInterval 清理间隔
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig MinIO 配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Secure    bool   `mapstructure:"secure"`
}

// RedisConfig Redis 配置，Host 为空表示不启用缓存
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// MetricsConfig Prometheus 指标
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件；configPath 为空时按默认路径查找 config.yaml，找不到则只使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("$HOME/OCRTool/Config")
	}

	v.SetEnvPrefix("OCRTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.normalize(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("topology.path", "./configs/config.json")
	v.SetDefault("topology.watch", true)
	v.SetDefault("topology.archive_backend", "local")
	v.SetDefault("topology.archive_dir", "./data/topology")

	// 状态探测 2s；重启类命令涉及服务重启与 sudo 提示，使用 10s
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.status_timeout", 2*time.Second)
	v.SetDefault("ssh.command_timeout", 10*time.Second)
	v.SetDefault("ssh.host_key_policy", "tofu")
	v.SetDefault("ssh.known_hosts_path", "")

	v.SetDefault("dispatcher.max_workers", 5)
	v.SetDefault("dispatcher.trigger_device", "trigger")
	v.SetDefault("dispatcher.job_retention", 30*time.Minute)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval", 60*time.Second)
	v.SetDefault("sweep.timeout", time.Second)
	v.SetDefault("sweep.count", 1)
	v.SetDefault("sweep.privileged", false)

	v.SetDefault("monitor.status_refresh", false)
	v.SetDefault("monitor.status_refresh_interval", 60*time.Second)

	v.SetDefault("database.sqlite.path", "./data/ocrtool.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)
	v.SetDefault("database.history_retention", 7*24*time.Hour)
	v.SetDefault("database.prune_interval", time.Hour)

	v.SetDefault("storage.minio.prefix", "topology")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file_path", "./logs/ocrtool.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

// normalize 校验并修正取值范围
func (c *Config) normalize() error {
	if c.Dispatcher.MaxWorkers <= 0 {
		c.Dispatcher.MaxWorkers = 5
	}
	if c.SSH.StatusTimeout <= 0 {
		c.SSH.StatusTimeout = 2 * time.Second
	}
	if c.SSH.CommandTimeout <= 0 {
		c.SSH.CommandTimeout = 10 * time.Second
	}
	if c.Sweep.Timeout <= 0 {
		c.Sweep.Timeout = time.Second
	}
	c.SSH.HostKeyPolicy = strings.ToLower(strings.TrimSpace(c.SSH.HostKeyPolicy))
	switch c.SSH.HostKeyPolicy {
	case "", "tofu", "insecure":
	case "pinned":
		if strings.TrimSpace(c.SSH.KnownHostsPath) == "" {
			return fmt.Errorf("ssh.known_hosts_path is required when ssh.host_key_policy is pinned")
		}
	default:
		return fmt.Errorf("unsupported ssh.host_key_policy: %s", c.SSH.HostKeyPolicy)
	}
	backend := strings.ToLower(strings.TrimSpace(c.Topology.ArchiveBackend))
	if backend != "local" && backend != "minio" {
		return fmt.Errorf("unsupported topology.archive_backend: %s", c.Topology.ArchiveBackend)
	}
	c.Topology.ArchiveBackend = backend
	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RedisEnabled 是否配置了 Redis
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Host) != ""
}
