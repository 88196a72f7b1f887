package config

import "time"

// Config 服务运行所需的完整配置。
// 功能：承载 HTTP 监听、数据库、Redis/Kafka 推送、ERP 接入、导入批处理与任务调度参数。
type Config struct {
	HTTP struct {
		Listen string `yaml:"listen"` // 例如 0.0.0.0:8080
	} `yaml:"http"`

	Database struct {
		Driver string `yaml:"driver"` // postgres | sqlite
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Redis struct {
		Addr      string        `yaml:"addr"` // 为空则不启用 Redis 推送
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		StatusTTL time.Duration `yaml:"statusTTL"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"` // 为空则不启用 Kafka 推送
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	ERP struct {
		BaseURL  string        `yaml:"baseURL"` // OData 根地址，如 http://erp/odata/standard.odata
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		Timeout  time.Duration `yaml:"timeout"`
		PageSize int           `yaml:"pageSize"`
	} `yaml:"erp"`

	Import struct {
		BatchSize   int           `yaml:"batchSize"`
		ItemTimeout time.Duration `yaml:"itemTimeout"`
		ReportEvery int           `yaml:"reportEvery"`
		MaxErrors   int           `yaml:"maxErrors"`
	} `yaml:"import"`

	Tasks struct {
		MaxConcurrent int           `yaml:"maxConcurrent"`
		Retention     time.Duration `yaml:"retention"`
		CleanupSpec   string        `yaml:"cleanupSpec"` // cron 表达式，如 @every 10m
		SyncSpec      string        `yaml:"syncSpec"`    // 为空则不定时同步 ERP
		SyncWindow    time.Duration `yaml:"syncWindow"`  // 定时同步回看的单据日期范围
		StatsSpec     string        `yaml:"statsSpec"`
	} `yaml:"tasks"`

	Log struct {
		Level   string `yaml:"level"`
		Backend string `yaml:"backend"` // slog | zap
	} `yaml:"log"`
}

// WithDefaults 填充默认值。
func (c *Config) WithDefaults() {
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:finsync.db?_pragma=busy_timeout(5000)"
	}
	if c.Redis.StatusTTL <= 0 {
		c.Redis.StatusTTL = 10 * time.Minute
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "finsync.task-events"
	}
	if c.ERP.Timeout <= 0 {
		c.ERP.Timeout = 60 * time.Second
	}
	if c.ERP.PageSize <= 0 {
		c.ERP.PageSize = 500
	}
	if c.Import.BatchSize <= 0 {
		c.Import.BatchSize = 500
	}
	if c.Import.ItemTimeout <= 0 {
		c.Import.ItemTimeout = 90 * time.Second
	}
	if c.Import.ReportEvery <= 0 {
		c.Import.ReportEvery = 50
	}
	if c.Import.MaxErrors <= 0 {
		c.Import.MaxErrors = 10
	}
	if c.Tasks.MaxConcurrent <= 0 {
		c.Tasks.MaxConcurrent = 4
	}
	if c.Tasks.Retention <= 0 {
		c.Tasks.Retention = 24 * time.Hour
	}
	if c.Tasks.CleanupSpec == "" {
		c.Tasks.CleanupSpec = "@every 10m"
	}
	if c.Tasks.SyncWindow <= 0 {
		c.Tasks.SyncWindow = 72 * time.Hour
	}
	if c.Tasks.StatsSpec == "" {
		c.Tasks.StatsSpec = "@every 1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Backend == "" {
		c.Log.Backend = "slog"
	}
}
