package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	WebDAV     WebDAVConfig     `mapstructure:"webdav"`
	Properties PropertiesConfig `mapstructure:"properties"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	Prefix          string        `mapstructure:"prefix"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// WebDAVConfig 协议行为配置
type WebDAVConfig struct {
	AllowInfiniteDepth bool       `mapstructure:"allow_infinite_depth"`
	DefaultTimestamp   string     `mapstructure:"default_timestamp"`
	MaxBodySize        int64      `mapstructure:"max_body_size"`
	Lock               LockConfig `mapstructure:"lock"`
}

// LockConfig 锁配置
type LockConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// PropertiesConfig 死属性存储配置
type PropertiesConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// 死属性存储驱动
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.prefix", "/webdav")
	v.SetDefault("server.read_timeout", 15*time.Minute)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.enable_cors", false)
	v.SetDefault("storage.root", "./data")
	v.SetDefault("webdav.allow_infinite_depth", false)
	v.SetDefault("webdav.default_timestamp", "")
	v.SetDefault("webdav.max_body_size", 1<<20)
	v.SetDefault("webdav.lock.default_timeout", time.Hour)
	v.SetDefault("webdav.lock.max_timeout", 24*time.Hour)
	v.SetDefault("webdav.lock.cleanup_interval", time.Minute)
	v.SetDefault("properties.driver", DriverMemory)
	v.SetDefault("properties.dsn", "")
	v.SetDefault("properties.redis.address", "localhost:6379")
	v.SetDefault("properties.redis.password", "")
	v.SetDefault("properties.redis.db", 0)
	v.SetDefault("properties.redis.timeout", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load 加载配置。file为空时按默认路径搜索config.yaml，找不到时使用默认值。
// 当前目录下的.env会先载入环境变量。
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/davcore")
		v.AddConfigPath("$HOME/.davcore")
	}

	// DAVCORE_SERVER_ADDRESS 覆盖 server.address
	v.SetEnvPrefix("DAVCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	setEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setEnvOverrides 常用的无前缀环境变量
func setEnvOverrides(v *viper.Viper) {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		v.Set("server.address", addr)
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		v.Set("server.mode", mode)
	}
	if root := os.Getenv("STORAGE_ROOT"); root != "" {
		v.Set("storage.root", root)
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && v.GetString("properties.driver") == DriverPostgres {
		v.Set("properties.dsn", dsn)
	}
	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		v.Set("properties.redis.address", redisAddr)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("properties.redis.password", redisPassword)
	}
	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			v.Set("properties.redis.db", db)
		}
	}
}

// Validate 检查配置一致性
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("storage.root must not be empty")
	}
	switch c.Properties.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite, DriverPostgres:
		if c.Properties.DSN == "" {
			return fmt.Errorf("properties.dsn is required for driver %q", c.Properties.Driver)
		}
	default:
		return fmt.Errorf("unknown properties.driver %q", c.Properties.Driver)
	}
	if c.WebDAV.Lock.DefaultTimeout <= 0 || c.WebDAV.Lock.MaxTimeout <= 0 {
		return errors.New("webdav.lock timeouts must be positive")
	}
	if c.WebDAV.Lock.DefaultTimeout > c.WebDAV.Lock.MaxTimeout {
		return errors.New("webdav.lock.default_timeout exceeds max_timeout")
	}
	if _, err := c.DefaultTimestamp(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// DefaultTimestamp 缺失时间戳时使用的时间，未配置时为零值
func (c *Config) DefaultTimestamp() (time.Time, error) {
	if c.WebDAV.DefaultTimestamp == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.WebDAV.DefaultTimestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("webdav.default_timestamp: %w", err)
	}
	return t, nil
}

// RoutePrefix 规范化的路由前缀，不以/结尾，根为空串
func (c *Config) RoutePrefix() string {
	prefix := strings.TrimRight(c.Server.Prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "debug":
		return gin.DebugMode
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// NewLogger 按日志配置创建logger
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if c.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
