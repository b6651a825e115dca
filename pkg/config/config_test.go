package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  addr: ":8080"
  read_timeout: 5s
ws:
  max_connections: 100
  heartbeat_interval: 30s
  allowed_origins:
    - https://app.example.com
    - https://admin.example.com
session:
  ttl: 5m
  backend: memory
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewWithOptions(t *testing.T) {
	c := New(
		WithAutoWatch(true),
		WithEnvPrefix("PUSHGATE"),
		WithOptionalFile(true),
	)
	assert.NotNil(t, c.viper)
	assert.True(t, c.autoWatch)
	assert.True(t, c.optional)
	assert.Equal(t, "PUSHGATE", c.envPrefix)
}

func TestLoad(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, ":8080", c.GetString("server.addr"))
	assert.Equal(t, 100, c.GetInt("ws.max_connections"))
	assert.Equal(t, 30*time.Second, c.GetDuration("ws.heartbeat_interval"))
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, c.GetStringSlice("ws.allowed_origins"))
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "gateway.yaml", testYAML)

	c := New(
		WithConfigName("gateway"),
		WithConfigType("yaml"),
		WithConfigPaths(dir),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, "memory", c.GetString("session.backend"))
}

func TestLoadWithoutFile(t *testing.T) {
	c := New(WithDefaults(map[string]any{"ws.max_connections": 10}))
	require.NoError(t, c.Load())
	assert.Equal(t, 10, c.GetInt("ws.max_connections"))
}

func TestConfigFileNotFound(t *testing.T) {
	c := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	err := c.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestConfigFileNotFoundByName(t *testing.T) {
	c := New(
		WithConfigName("missing"),
		WithConfigType("yaml"),
		WithConfigPaths(t.TempDir()),
	)
	assert.ErrorIs(t, c.Load(), ErrConfigNotFound)
}

func TestOptionalFileMissing(t *testing.T) {
	c := New(
		WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")),
		WithOptionalFile(true),
		WithDefaults(map[string]any{"session.ttl": "5m"}),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, 5*time.Minute, c.GetDuration("session.ttl"))
}

func TestConfigReadFailed(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "broken.yaml", "server: [unclosed")
	c := New(WithConfigFile(cfgPath))
	assert.ErrorIs(t, c.Load(), ErrConfigReadFailed)
}

func TestGenericGet(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, ":8080", Get[string](c, "server.addr"))
	assert.Equal(t, "", Get[string](c, "nonexistent"))
	// 类型不匹配返回零值
	assert.Equal(t, 0, Get[int](c, "server.addr"))
}

func TestSetAndIsSet(t *testing.T) {
	c := New()
	assert.False(t, c.IsSet("ws.max_connections"))

	c.Set("ws.max_connections", 42)
	assert.True(t, c.IsSet("ws.max_connections"))
	assert.Equal(t, 42, c.GetInt("ws.max_connections"))

	c.Set("tracing.enabled", true)
	assert.True(t, c.GetBool("tracing.enabled"))
}

func TestSub(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	ws := c.Sub("ws")
	require.NotNil(t, ws)
	assert.Equal(t, 100, ws.GetInt("max_connections"))
	assert.Nil(t, c.Sub("nonexistent"))
}

func TestUnmarshal(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var cfg struct {
		Server struct {
			Addr        string        `mapstructure:"addr"`
			ReadTimeout time.Duration `mapstructure:"read_timeout"`
		} `mapstructure:"server"`
		Session struct {
			TTL     time.Duration `mapstructure:"ttl"`
			Backend string        `mapstructure:"backend"`
		} `mapstructure:"session"`
	}

	require.NoError(t, c.Unmarshal(&cfg))
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "memory", cfg.Session.Backend)
}

func TestUnmarshalKey(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var ws struct {
		MaxConnections    int           `mapstructure:"max_connections"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	}
	require.NoError(t, c.UnmarshalKey("ws", &ws))
	assert.Equal(t, 100, ws.MaxConnections)
	assert.Equal(t, 30*time.Second, ws.HeartbeatInterval)
}

func TestUnmarshalDecodeFailed(t *testing.T) {
	c := New()
	c.Set("ws.max_connections", "lots")

	var ws struct {
		MaxConnections int `mapstructure:"max_connections"`
	}
	assert.ErrorIs(t, c.UnmarshalKey("ws", &ws), ErrConfigDecodeFailed)
}

func TestWithDefaults(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", `
ws:
  max_connections: 5
`)

	c := New(
		WithConfigFile(cfgPath),
		WithDefaults(map[string]any{
			"ws.max_connections":    1000,
			"ws.heartbeat_interval": "30s",
		}),
	)
	require.NoError(t, c.Load())

	assert.Equal(t, 5, c.GetInt("ws.max_connections"))
	assert.Equal(t, 30*time.Second, c.GetDuration("ws.heartbeat_interval"))
}

func TestWithEnvPrefix(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)
	t.Setenv("PUSHGATE_SERVER_ADDR", ":9999")

	c := New(
		WithConfigFile(cfgPath),
		WithEnvPrefix("PUSHGATE"),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	)
	require.NoError(t, c.Load())

	assert.Equal(t, ":9999", c.GetString("server.addr"))
}

func TestWatchTriggersOnChange(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	changed := make(chan struct{}, 1)
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	require.NoError(t, c.Load())
	defer c.Close()
	assert.True(t, c.IsWatching())

	updated := strings.Replace(testYAML, "max_connections: 100", "max_connections: 200", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(updated), 0644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange callback was not triggered within timeout")
	}
	assert.Eventually(t, func() bool {
		return c.GetInt("ws.max_connections") == 200
	}, time.Second, 20*time.Millisecond)
}

func TestStartStopWatch(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())
	assert.False(t, c.IsWatching())

	c.StartWatch()
	assert.True(t, c.IsWatching())
	c.StartWatch()
	assert.True(t, c.IsWatching())

	c.StopWatch()
	assert.False(t, c.IsWatching())
}

func TestConcurrentAccess(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "config.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.GetString("server.addr")
			_ = c.GetInt("ws.max_connections")
		}()
		go func(i int) {
			defer wg.Done()
			c.Set("ws.max_connections", i)
		}(i)
	}
	wg.Wait()
}
