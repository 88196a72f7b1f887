package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 从 YAML 文件加载配置，随后应用环境变量覆盖与默认值。
func Load(file string) (Config, error) {
	var c Config
	b, err := os.ReadFile(file)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", file, err)
	}
	c.ApplyEnv()
	c.WithDefaults()
	return c, nil
}

// ApplyEnv 使用 FINSYNC_* 环境变量覆盖敏感或随环境变化的配置项。
func (c *Config) ApplyEnv() {
	setString(&c.HTTP.Listen, "FINSYNC_HTTP_LISTEN")
	setString(&c.Database.Driver, "FINSYNC_DATABASE_DRIVER")
	setString(&c.Database.DSN, "FINSYNC_DATABASE_DSN")
	setString(&c.Redis.Addr, "FINSYNC_REDIS_ADDR")
	setString(&c.Redis.Password, "FINSYNC_REDIS_PASSWORD")
	setString(&c.ERP.BaseURL, "FINSYNC_ERP_BASE_URL")
	setString(&c.ERP.Username, "FINSYNC_ERP_USERNAME")
	setString(&c.ERP.Password, "FINSYNC_ERP_PASSWORD")
	if v := os.Getenv("FINSYNC_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
