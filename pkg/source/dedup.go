package source

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduper 基于两个轮换布隆过滤器的近似去重
//
// 事件 id 在 [Window, 2*Window) 内保证被识别为重复；
// 误判率由 FalsePositive 控制，误判只会丢弃事件而不会重复推送。
type Deduper struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	capacity uint
	fp       float64
	window   time.Duration
	rotated  time.Time
	now      func() time.Time
}

// NewDeduper 创建去重器
func NewDeduper(cfg DedupConfig) *Deduper {
	cfg.setDefaults()
	d := &Deduper{
		capacity: cfg.Capacity,
		fp:       cfg.FalsePositive,
		window:   cfg.Window,
		now:      time.Now,
	}
	d.current = bloom.NewWithEstimates(d.capacity, d.fp)
	d.previous = bloom.NewWithEstimates(d.capacity, d.fp)
	d.rotated = d.now()
	return d
}

// Seen 记录 id 并返回此前是否见过
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	switch elapsed := now.Sub(d.rotated); {
	case elapsed >= 2*d.window:
		d.current.ClearAll()
		d.previous.ClearAll()
		d.rotated = now
	case elapsed >= d.window:
		d.previous, d.current = d.current, d.previous
		d.current.ClearAll()
		d.rotated = now
	}
	if d.previous.TestString(id) {
		d.current.AddString(id)
		return true
	}
	return d.current.TestAndAddString(id)
}
