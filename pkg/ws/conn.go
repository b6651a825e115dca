package ws

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState 连接生命周期状态
type ConnState int32

const (
	StateAccepting ConnState = iota
	StateRestoring
	StateCreating
	StateWelcomed
	StateReceiving
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateRestoring:
		return "restoring"
	case StateCreating:
		return "creating"
	case StateWelcomed:
		return "welcomed"
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionView 处理器可见的会话状态
type SessionView interface {
	ID() string
	IsAuthenticated() bool
	UserID() string
	Permissions() []string
	HasPermission(p string) bool
	SetIdentity(userID string, permissions []string)
	MarkLoggedOut()
}

// Conn 单个客户端连接
//
// send 通道不会被关闭，写协程通过 closed 感知退出，
// 并发 Send 与 Close 不会触发向已关闭通道写入。
type Conn struct {
	id   string
	ws   *websocket.Conn
	meta Metadata
	send chan []byte

	mu            sync.RWMutex
	authenticated bool
	userID        string
	permissions   map[string]struct{}
	loggedOut     bool

	lastHeartbeat atomic.Int64 // UnixNano
	msgLimiter    *windowCounter
	subLimiter    *windowCounter
	state         atomic.Int32
	sendFailures  atomic.Int32
	invalidFrames int // 仅读协程访问

	closeOnce   sync.Once
	closed      chan struct{}
	closeCode   int
	closeReason string
	writeDone   chan struct{}
}

func newConn(ws *websocket.Conn, meta Metadata, queueSize int, limits Limits, now func() time.Time) *Conn {
	if now == nil {
		now = time.Now
	}
	c := &Conn{
		ws:          ws,
		meta:        meta,
		send:        make(chan []byte, queueSize),
		permissions: make(map[string]struct{}),
		msgLimiter:  newWindowCounter(limits.MaxMessagesPerMinute, time.Minute, now),
		subLimiter:  newWindowCounter(limits.MaxSubscriptionsPerHour, time.Hour, now),
		closed:      make(chan struct{}),
		writeDone:   make(chan struct{}),
	}
	c.lastHeartbeat.Store(now().UnixNano())
	return c
}

// ID 客户端 ID
func (c *Conn) ID() string { return c.id }

// Metadata 连接元数据
func (c *Conn) Metadata() Metadata { return c.meta }

// State 当前生命周期状态
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// IsAuthenticated 是否已认证
func (c *Conn) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// UserID 认证用户
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Permissions 权限列表（已排序）
func (c *Conn) Permissions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.permissions))
	for p := range c.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasPermission 是否拥有权限
func (c *Conn) HasPermission(p string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.permissions[p]
	return ok
}

// SetIdentity 标记为已认证，登出后重新认证会恢复会话保存
func (c *Conn) SetIdentity(userID string, permissions []string) {
	perms := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		perms[p] = struct{}{}
	}
	c.mu.Lock()
	c.authenticated = true
	c.userID = userID
	c.permissions = perms
	c.loggedOut = false
	c.mu.Unlock()
}

// MarkLoggedOut 登出后断开时不再保存会话
func (c *Conn) MarkLoggedOut() {
	c.mu.Lock()
	c.authenticated = false
	c.userID = ""
	c.permissions = make(map[string]struct{})
	c.loggedOut = true
	c.mu.Unlock()
}

// LoggedOut 是否已登出
func (c *Conn) LoggedOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedOut
}

// LastHeartbeat 最近一次心跳时间
func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *Conn) touch(now time.Time) {
	c.lastHeartbeat.Store(now.UnixNano())
}

// enqueue 非阻塞写入发送队列
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// enqueueWait 等待队列空间直到 ctx 结束
func (c *Conn) enqueueWait(ctx context.Context, data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close 关闭连接，只有第一次调用的关闭码生效
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.setState(StateClosing)
		close(c.closed)
	})
}

// Done 连接关闭时返回的通道
func (c *Conn) Done() <-chan struct{} { return c.closed }

// CloseStatus 关闭码与原因，未关闭时为 0
func (c *Conn) CloseStatus() (int, string) {
	select {
	case <-c.closed:
		return c.closeCode, c.closeReason
	default:
		return 0, ""
	}
}

// writePump 唯一的写协程
func (c *Conn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg, writeWait); err != nil {
				c.Close(websocket.CloseAbnormalClosure, ReasonWriteFailed)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Close(websocket.CloseAbnormalClosure, ReasonWriteFailed)
				return
			}

		case <-c.closed:
			// 关闭前尽量发出已排队的帧（例如最后一个错误帧）
			for drained := false; !drained; {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg, writeWait); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte, writeWait time.Duration) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
