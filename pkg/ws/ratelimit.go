package ws

import (
	"sync"
	"time"
)

// windowCounter 固定窗口计数器，只在窗口滚动时清零
type windowCounter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	count  int
	now    func() time.Time
}

func newWindowCounter(limit int, window time.Duration, now func() time.Time) *windowCounter {
	if now == nil {
		now = time.Now
	}
	return &windowCounter{limit: limit, window: window, start: now(), now: now}
}

// Allow 计入一次并返回是否在限额内，limit <= 0 表示不限
func (w *windowCounter) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.limit <= 0 {
		return true
	}
	now := w.now()
	if now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// SetLimit 调整限额，当前窗口计数保留
func (w *windowCounter) SetLimit(limit int) {
	w.mu.Lock()
	w.limit = limit
	w.mu.Unlock()
}
