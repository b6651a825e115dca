package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventConnected 新连接完成欢迎
	EventConnected EventType = "client.connected"
	// EventRestored 重连恢复会话
	EventRestored EventType = "client.restored"
	// EventDisconnected 连接清理完成
	EventDisconnected EventType = "client.disconnected"
	// EventSubscribed 订阅
	EventSubscribed EventType = "stream.subscribed"
	// EventUnsubscribed 取消订阅
	EventUnsubscribed EventType = "stream.unsubscribed"
)

// Event 生命周期事件
type Event struct {
	Type     EventType
	ClientID string
	UserID   string
	Stream   string
	Reason   string
	Metadata Metadata
	Time     time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线，处理器在固定数量的 worker 中异步执行
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64 // 丢弃的事件计数
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			// 退出前处理完已入队的事件
			for {
				select {
				case task := <-eb.workerCh:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步），nil 总线上调用无效
func (eb *EventBus) Publish(event Event) {
	if eb == nil || eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		task := func() { h(event) }

		// 连接类事件等待一小段时间，其余队列满时直接丢弃
		if event.Type == EventConnected || event.Type == EventRestored || event.Type == EventDisconnected {
			timer := time.NewTimer(100 * time.Millisecond)
			select {
			case eb.workerCh <- task:
			case <-timer.C:
				eb.droppedEvents.Add(1)
			}
			timer.Stop()
			continue
		}
		select {
		case eb.workerCh <- task:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close 关闭事件总线，等待 worker 处理完已入队事件
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
	// 不关闭 workerCh，避免并发 Publish 导致 panic
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	if eb == nil {
		return 0
	}
	return eb.droppedEvents.Load()
}
