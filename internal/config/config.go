package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	Logout   LogoutConfig   `mapstructure:"logout"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Users    []UserConfig   `mapstructure:"users"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string         `mapstructure:"driver"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
	MySQL        MySQLConfig    `mapstructure:"mysql"`
	MaxIdleConns int            `mapstructure:"max_idle_conns"` // 0 使用内置默认值
	MaxOpenConns int            `mapstructure:"max_open_conns"` // 0 使用内置默认值
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
	Loc       string `mapstructure:"loc"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 管理 API 令牌配置
type JWTConfig struct {
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	Issuer         string        `mapstructure:"issuer"`
	AccessExpiry   time.Duration `mapstructure:"access_expiry"`
}

// TicketConfig 票据配置
type TicketConfig struct {
	TGTExpiry         time.Duration `mapstructure:"tgt_expiry"`           // TGT 最长存活时间
	TGTIdleTimeout    time.Duration `mapstructure:"tgt_idle_timeout"`     // TGT 空闲超时，0 表示不限制
	STExpiry          time.Duration `mapstructure:"st_expiry"`            // ST/PT 有效期
	PGTExpiry         time.Duration `mapstructure:"pgt_expiry"`           // PGT 最长存活时间
	TrackDescendants  bool          `mapstructure:"track_descendants"`    // 是否跟踪全部后代票据
	MaxProxyChainHops int           `mapstructure:"max_proxy_chain_hops"` // 代理链最大跳数
}

// LogoutConfig 单点登出配置
type LogoutConfig struct {
	Disabled          bool          `mapstructure:"disabled"`           // 全局关闭单点登出
	Timeout           time.Duration `mapstructure:"timeout"`            // 单个服务通知超时
	Concurrency       int           `mapstructure:"concurrency"`        // 并发通知上限
	FollowDescendants bool          `mapstructure:"follow_descendants"` // 登出时是否遍历后代票据
}

// AdminConfig 管理 API 凭证配置
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt 哈希
}

// UserConfig 静态用户凭证
// 生产部署通常替换为 LDAP/数据库认证器，这里提供配置文件内置用户
type UserConfig struct {
	Username     string            `mapstructure:"username"`
	PasswordHash string            `mapstructure:"password_hash"` // bcrypt 哈希
	Attributes   map[string]string `mapstructure:"attributes"`
}

var globalConfig *Config

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 支持环境变量覆盖
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// LoadFromFile 从指定文件加载配置
func LoadFromFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// setDefaults 设置默认值
func setDefaults() {
	// 服务器默认配置
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")

	// 数据库默认配置
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "postgres")
	viper.SetDefault("database.postgres.password", "")
	viper.SetDefault("database.postgres.dbname", "cas_server")
	viper.SetDefault("database.postgres.sslmode", "disable")

	// Redis 默认配置（addr 为空时使用进程内票据注册表）
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// JWT 默认配置
	viper.SetDefault("jwt.issuer", "cas-server")
	viper.SetDefault("jwt.access_expiry", "2h")

	// 票据默认配置
	viper.SetDefault("ticket.tgt_expiry", "8h")
	viper.SetDefault("ticket.tgt_idle_timeout", "2h")
	viper.SetDefault("ticket.st_expiry", "5m")
	viper.SetDefault("ticket.pgt_expiry", "8h")
	viper.SetDefault("ticket.track_descendants", false)
	viper.SetDefault("ticket.max_proxy_chain_hops", 10)

	// 单点登出默认配置
	viper.SetDefault("logout.disabled", false)
	viper.SetDefault("logout.timeout", "5s")
	viper.SetDefault("logout.concurrency", 8)
	viper.SetDefault("logout.follow_descendants", false)

	// 管理 API 默认配置
	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.password_hash", "")
}
