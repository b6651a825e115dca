package orm

import (
	"fmt"
	"time"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`

	// 连接池
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	PrepareStmt   bool          `mapstructure:"prepare_stmt"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 超过该耗时的 SQL 记为 warn
	TablePrefix   string        `mapstructure:"table_prefix"`

	// 为每条 SQL 创建 span，RecordSQL 会把语句写入 span 属性
	Tracing   bool `mapstructure:"tracing"`
	RecordSQL bool `mapstructure:"record_sql"`

	// 只读副本（可选）
	Replicas *ReplicaConfig `mapstructure:"replicas"`
}

// ReplicaConfig 读写分离
type ReplicaConfig struct {
	Sources []string `mapstructure:"sources"` // 只读副本 DSN
	Policy  string   `mapstructure:"policy"`  // random | round_robin
}

// DefaultConfig 默认配置（本地 sqlite）
func DefaultConfig() *Config {
	return &Config{
		Type:            SQLite,
		DSN:             "pushgate.db",
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		SlowThreshold:   200 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Type == "" {
		c.Type = d.Type
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = d.SlowThreshold
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Type {
	case MySQL, PostgreSQL, SQLite, SQLServer:
	default:
		return fmt.Errorf("%w: unsupported database type %q", ErrInvalidConfig, c.Type)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.Replicas != nil && len(c.Replicas.Sources) == 0 {
		return fmt.Errorf("%w: replicas configured without sources", ErrInvalidConfig)
	}
	return nil
}
