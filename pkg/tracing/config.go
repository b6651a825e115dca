package tracing

import (
	"time"

	"github.com/tokmz/pushgate/pkg/errors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New("tracing_invalid_config", "tracing config error")

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp_grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	// 服务名称（必填）
	ServiceName string `mapstructure:"service_name"`

	// 服务版本
	ServiceVersion string `mapstructure:"service_version"`

	// 环境（dev/staging/prod）
	Environment string `mapstructure:"environment"`

	// 导出器类型（otlp/otlp_grpc/stdout/noop）
	ExporterType string `mapstructure:"exporter_type"`

	// 导出器端点（如 OTLP Collector 地址）
	ExporterEndpoint string `mapstructure:"exporter_endpoint"`

	// 导出器请求头（用于认证）
	ExporterHeaders map[string]string `mapstructure:"exporter_headers"`

	// 是否使用非 TLS 连接
	Insecure bool `mapstructure:"insecure"`

	// 采样率（0.0-1.0，1.0 表示全量采集）
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// 采样类型（always/never/ratio/parent_based）
	SamplingType string `mapstructure:"sampling_type"`

	// 是否启用
	Enabled bool `mapstructure:"enabled"`

	// 资源属性（自定义标签）
	ResourceAttributes map[string]string `mapstructure:"resource_attributes"`

	// 批处理配置
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`         // 批量导出超时（默认 5s）
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"` // 最大批量大小（默认 512）
	MaxQueueSize       int           `mapstructure:"max_queue_size"`        // 最大队列大小（默认 2048）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "pushgate",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		ExporterType:       ExporterNoop,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            true,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// setDefaults 补全配置文件中省略的批处理参数
func (c *Config) setDefaults() {
	if c.ExporterType == "" {
		c.ExporterType = ExporterNoop
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxExportBatchSize == 0 {
		c.MaxExportBatchSize = 512
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 2048
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("sampling rate must be between 0.0 and 1.0")
	}

	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessage("invalid exporter type: " + c.ExporterType)
	}

	return nil
}
