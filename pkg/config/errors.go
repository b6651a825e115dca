package config

import "github.com/tokmz/pushgate/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New("config_not_found", "配置文件未找到")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New("config_read_failed", "配置读取失败")
	// ErrConfigDecodeFailed 配置反序列化失败
	ErrConfigDecodeFailed = errors.New("config_decode_failed", "配置反序列化失败")
)
