// Package journal 将连接生命周期事件批量写入数据库，用于审计与排障。
package journal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/ws"
)

// ErrInvalidConfig 配置或依赖缺失
var ErrInvalidConfig = errors.New("journal_invalid_config", "invalid journal config", http.StatusInternalServerError)

// Entry 一条生命周期记录
type Entry struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ClientID   string    `gorm:"size:64;index:idx_journal_client_time,priority:1"`
	UserID     string    `gorm:"size:128"`
	Event      string    `gorm:"size:32"`
	Stream     string    `gorm:"size:128"`
	Reason     string    `gorm:"size:64"`
	IP         string    `gorm:"size:64"`
	UserAgent  string    `gorm:"size:256"`
	OccurredAt time.Time `gorm:"index:idx_journal_client_time,priority:2"`
}

// TableName 表名
func (Entry) TableName() string { return "connection_journal" }

// Config 写入配置
type Config struct {
	QueueSize     int           `mapstructure:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// 为空时记录全部事件类型
	Events []string `mapstructure:"events"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		QueueSize:     4096,
		BatchSize:     200,
		FlushInterval: time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.QueueSize < 0 || c.BatchSize < 0 || c.FlushInterval < 0 {
		return ErrInvalidConfig.WithMessage("queue_size, batch_size and flush_interval must not be negative")
	}
	if c.BatchSize > c.QueueSize {
		return ErrInvalidConfig.WithMessage("batch_size must not exceed queue_size")
	}
	return nil
}

// Journal 异步批量写入器
type Journal struct {
	db   *gorm.DB
	cfg  *Config
	log  logger.Logger
	ch   chan Entry
	done chan struct{}

	mu      sync.RWMutex // 保护 closed 与 ch 的关闭
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// New 创建并迁移表结构，启动后台写入协程
func New(db *gorm.DB, cfg *Config, log logger.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is required", ErrInvalidConfig)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	j := &Journal{
		db:   db,
		cfg:  cfg,
		log:  log.With(zap.String("component", "journal")),
		ch:   make(chan Entry, cfg.QueueSize),
		done: make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// Attach 订阅事件总线
func (j *Journal) Attach(bus *ws.EventBus) {
	types := []ws.EventType{
		ws.EventConnected, ws.EventRestored, ws.EventDisconnected,
		ws.EventSubscribed, ws.EventUnsubscribed,
	}
	for _, t := range types {
		if !j.wants(t) {
			continue
		}
		bus.Subscribe(t, func(e ws.Event) { j.Record(e) })
	}
}

func (j *Journal) wants(t ws.EventType) bool {
	if len(j.cfg.Events) == 0 {
		return true
	}
	for _, e := range j.cfg.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}

// Record 非阻塞入队，队列满时丢弃并计数
func (j *Journal) Record(e ws.Event) bool {
	entry := Entry{
		ClientID:   e.ClientID,
		UserID:     e.UserID,
		Event:      string(e.Type),
		Stream:     e.Stream,
		Reason:     e.Reason,
		IP:         e.Metadata.IP,
		UserAgent:  e.Metadata.UserAgent,
		OccurredAt: e.Time,
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	select {
	case j.ch <- entry:
		return true
	default:
		j.dropped.Add(1)
		return false
	}
}

func (j *Journal) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, j.cfg.BatchSize)
	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				j.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= j.cfg.BatchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.db.WithContext(ctx).CreateInBatches(batch, j.cfg.BatchSize).Error; err != nil {
		j.dropped.Add(int64(len(batch)))
		j.log.Error("journal flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		return
	}
	j.written.Add(int64(len(batch)))
}

// Close 停止接收并刷新剩余记录
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.ch)
	}
	j.mu.Unlock()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent 按时间倒序查询某个客户端的记录
func (j *Journal) Recent(ctx context.Context, clientID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Dropped 丢弃的记录数
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Written 已写入的记录数
func (j *Journal) Written() int64 { return j.written.Load() }
