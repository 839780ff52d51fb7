// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PolicyConfig 是一条预约策略：name 用于错误提示，expression 是一段 CEL 表达式。
type PolicyConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// Config 是整个服务的配置树，从 yaml 文件加载，
// 也可以由 Nacos 配置中心的同名内容整体热替换。
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"app"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Mysql struct {
			Addr     string `yaml:"addr"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers          []string `yaml:"brokers"`
			StockEventsTopic string   `yaml:"stock_events_topic"`
		} `yaml:"kafka"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Inventory struct {
		// LockMode 决定同商品操作的串行化策略:
		// rowlock | optimistic | redis | zookeeper
		LockMode   string         `yaml:"lock_mode"`
		MaxRetries int            `yaml:"max_retries"`
		Policies   []PolicyConfig `yaml:"policies"`
	} `yaml:"inventory"`
}

var currentConfig atomic.Value // 持有 *Config

// GetCurrentConfig 返回当前生效的配置快照。
// 配置热更新时整体替换，调用方拿到的永远是一份一致的配置。
func GetCurrentConfig() *Config {
	if c, ok := currentConfig.Load().(*Config); ok {
		return c
	}
	// 未显式加载时回退到默认值，主要方便测试
	c := defaultConfig()
	currentConfig.Store(c)
	return c
}

// LoadConfig 从 CONFIG_PATH（默认 ./config.yaml）加载配置。
// 文件不存在时使用内置默认值，保证本地零配置也能启动。
func LoadConfig() error {
	path := getEnv("CONFIG_PATH", "./config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			currentConfig.Store(defaultConfig())
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ApplyConfig(data)
}

// ApplyConfig 解析一段 yaml 并原子替换当前配置。
// Nacos 配置监听回调也走这里。
func ApplyConfig(data []byte) error {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	currentConfig.Store(cfg)
	return nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Port = 8080
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Mysql.Addr = getEnv("MYSQL_ADDR", "localhost:3306")
	cfg.Infra.Mysql.User = getEnv("MYSQL_USER", "root")
	cfg.Infra.Mysql.Password = getEnv("MYSQL_PASSWORD", "root")
	cfg.Infra.Mysql.Database = getEnv("MYSQL_DATABASE", "stockpile")
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Infra.Kafka.Brokers = []string{getEnv("KAFKA_BROKER", "localhost:9092")}
	cfg.Infra.Kafka.StockEventsTopic = getEnv("STOCK_EVENTS_TOPIC", "stock-events")
	cfg.Infra.Zookeeper.Servers = []string{getEnv("ZOOKEEPER_SERVER", "localhost:2181")}
	cfg.Inventory.LockMode = "rowlock"
	cfg.Inventory.MaxRetries = 5
	return cfg
}
