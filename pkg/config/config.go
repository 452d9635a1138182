package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// 模型存储方式
const (
	ModelStoreFile     = "file"
	ModelStoreDatabase = "database"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Binance struct {
		APIKey    string        `yaml:"api_key"`
		APISecret string        `yaml:"api_secret"`
		BaseURL   string        `yaml:"base_url"`
		Timeout   time.Duration `yaml:"timeout"`
		PageSize  int           `yaml:"page_size"`
	} `yaml:"binance"`

	Updater struct {
		IntervalSeconds       int           `yaml:"interval_seconds"`
		AdjustmentPercent     float64       `yaml:"adjustment_percent"`
		FallbackMarginPercent float64       `yaml:"fallback_margin_percent"`
		ThresholdPercent      float64       `yaml:"threshold_percent"`
		PricePrecision        int32         `yaml:"price_precision"`
		StopTimeout           time.Duration `yaml:"stop_timeout"`
		Autostart             bool          `yaml:"autostart"`
	} `yaml:"updater"`

	Filter struct {
		MinDataPoints    int           `yaml:"min_data_points"`
		TrainingInterval time.Duration `yaml:"training_interval"`
		ModelPath        string        `yaml:"model_path"`
		ModelStore       string        `yaml:"model_store"`
	} `yaml:"filter"`

	Database struct {
		Enabled     bool `yaml:"enabled"`
		TimescaleDB struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"timescaledb"`
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"database"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`

	Monitor struct {
		AlertWebhookURL string `yaml:"alert_webhook_url"`
	} `yaml:"monitor"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"api"`
}

// Default 默认配置
func Default() *Config {
	var c Config
	c.App.Name = "pricekeeper"
	c.App.Env = "dev"
	c.Binance.BaseURL = "https://api.binance.com"
	c.Binance.Timeout = 10 * time.Second
	c.Binance.PageSize = 20
	c.Updater.IntervalSeconds = 60
	c.Updater.AdjustmentPercent = 0.5
	c.Updater.FallbackMarginPercent = 0.5
	c.Updater.ThresholdPercent = 0.5
	c.Updater.PricePrecision = 2
	c.Updater.StopTimeout = 5 * time.Second
	c.Filter.MinDataPoints = 10
	c.Filter.TrainingInterval = 24 * time.Hour
	c.Filter.ModelPath = "data/price_model.json"
	c.Filter.ModelStore = ModelStoreFile
	c.Database.TimescaleDB.Host = "localhost"
	c.Database.TimescaleDB.Port = 5432
	c.Database.TimescaleDB.SSLMode = "disable"
	c.Database.RetentionDays = 30
	c.NATS.URL = "nats://localhost:4222"
	c.API.Port = "8000"
	c.API.ReadTimeout = 10 * time.Second
	c.API.WriteTimeout = 10 * time.Second
	return &c
}

// LoadConfig 从文件加载配置，缺省项使用默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Updater.IntervalSeconds < 5 {
		return fmt.Errorf("updater.interval_seconds 不能小于 5: %d", c.Updater.IntervalSeconds)
	}
	if c.Updater.AdjustmentPercent < 0 || c.Updater.FallbackMarginPercent < 0 || c.Updater.ThresholdPercent < 0 {
		return fmt.Errorf("updater 百分比参数不能为负")
	}
	if c.Updater.PricePrecision < 0 {
		return fmt.Errorf("updater.price_precision 不能为负: %d", c.Updater.PricePrecision)
	}
	if c.Binance.PageSize <= 0 {
		return fmt.Errorf("binance.page_size 必须为正: %d", c.Binance.PageSize)
	}
	if c.Filter.MinDataPoints <= 0 {
		return fmt.Errorf("filter.min_data_points 必须为正: %d", c.Filter.MinDataPoints)
	}
	switch c.Filter.ModelStore {
	case ModelStoreFile:
		if c.Filter.ModelPath == "" {
			return fmt.Errorf("filter.model_path 不能为空")
		}
	case ModelStoreDatabase:
		if !c.Database.Enabled {
			return fmt.Errorf("filter.model_store=database 需要启用数据库")
		}
	default:
		return fmt.Errorf("未知的 filter.model_store: %s", c.Filter.ModelStore)
	}
	return nil
}

// DSN 数据库连接串
func (c *Config) DSN() string {
	db := c.Database.TimescaleDB
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.DBName, db.SSLMode)
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}

	// 币安配置
	if env := os.Getenv("BINANCE_API_KEY"); env != "" {
		config.Binance.APIKey = env
	}
	if env := os.Getenv("BINANCE_API_SECRET"); env != "" {
		config.Binance.APISecret = env
	}
	if env := os.Getenv("BINANCE_BASE_URL"); env != "" {
		config.Binance.BaseURL = env
	}

	// 调价配置
	if env := os.Getenv("UPDATER_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			config.Updater.IntervalSeconds = v
		}
	}
	if env := os.Getenv("MODEL_PATH"); env != "" {
		config.Filter.ModelPath = env
	}

	// 数据库配置
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Database.TimescaleDB.Host = env
	}
	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			config.Database.TimescaleDB.Port = port
		}
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.Database.TimescaleDB.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Database.TimescaleDB.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Database.TimescaleDB.DBName = env
	}

	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}
	if env := os.Getenv("ALERT_WEBHOOK_URL"); env != "" {
		config.Monitor.AlertWebhookURL = env
	}
	if env := os.Getenv("API_PORT"); env != "" {
		config.API.Port = env
	}
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("configs/%s/app.yaml", env)
}
