package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// StartWatch 监控已加载的配置文件，重复调用无副作用
func (c *Config) StartWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.watchLocked()
}

// StopWatch 关闭 watcher，之后的变更不再触发回调
func (c *Config) StopWatch() {
	c.mu.Lock()
	w, done := c.watcher, c.done
	c.watcher, c.done = nil, nil
	c.mu.Unlock()

	if w != nil {
		_ = w.Close()
		<-done
	}
}

func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watcher != nil
}

// watchLocked 监听所在目录而非文件本身，编辑器原子替换（rename）后仍能收到事件。
// 调用方持有写锁。
func (c *Config) watchLocked() error {
	if c.watcher != nil {
		return nil
	}
	file := c.viper.ConfigFileUsed()
	if file == "" {
		return nil
	}
	file = filepath.Clean(file)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ErrConfigReadFailed.WithError(err)
	}
	if err := w.Add(filepath.Dir(file)); err != nil {
		_ = w.Close()
		return ErrConfigReadFailed.WithError(err)
	}
	c.watcher = w
	c.done = make(chan struct{})
	go c.watchLoop(w, file, c.done)
	return nil
}

func (c *Config) watchLoop(w *fsnotify.Watcher, file string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != file || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			c.reload()
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload 读取失败（例如写到一半）时保留旧值，等下一次写事件
func (c *Config) reload() {
	c.mu.Lock()
	err := c.viper.ReadInConfig()
	onChange := c.onChange
	c.mu.Unlock()

	if err == nil && onChange != nil {
		onChange()
	}
}
