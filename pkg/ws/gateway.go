package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/auth"
	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/session"
)

// GatewayOption 网关选项
type GatewayOption func(*Gateway)

// WithStreamPolicy 订阅授权策略
func WithStreamPolicy(p StreamPolicy) GatewayOption {
	return func(g *Gateway) { g.policy = p }
}

// WithEventBus 生命周期事件总线，由调用方负责关闭
func WithEventBus(eb *EventBus) GatewayOption {
	return func(g *Gateway) { g.events = eb }
}

// Gateway 推送网关
//
// 持有连接、订阅、路由与广播四个组件，并驱动每个连接的完整生命周期：
// 恢复或创建、欢迎、接收、关闭清理。
type Gateway struct {
	cfg      *Config
	upgrader *websocket.Upgrader

	conns       *ConnectionManager
	subs        *SubscriptionManager
	router      *MessageRouter
	broadcaster *Broadcaster
	sessions    *session.Store
	events      *EventBus
	policy      StreamPolicy

	metrics Metrics
	stats   *counters
	log     logger.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	freezeOnce sync.Once
	mu         sync.Mutex
	closing    bool
	wg         sync.WaitGroup
}

// New 创建网关，缺少会话存储、认证器或日志时直接返回错误
func New(cfg *Config, sessions *session.Store, authenticator auth.Authenticator, log logger.Logger, opts ...GatewayOption) (*Gateway, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store", ErrMissingDependency)
	}
	if authenticator == nil {
		return nil, fmt.Errorf("%w: authenticator", ErrMissingDependency)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		upgrader: newUpgrader(cfg),
		sessions: sessions,
		metrics:  cfg.Metrics,
		stats:    &counters{},
		log:      log.With(zap.String("component", "gateway")),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.conns = NewConnectionManager(cfg, log)
	g.conns.stats = g.stats
	g.subs = NewSubscriptionManager(cfg.MaxSubscriptionsPerClient)

	var err error
	if g.router, err = NewMessageRouter(g.conns, cfg, log); err != nil {
		cancel()
		return nil, err
	}
	g.router.stats = g.stats
	if g.broadcaster, err = NewBroadcaster(g.conns, g.subs, cfg, log); err != nil {
		cancel()
		return nil, err
	}
	g.broadcaster.stats = g.stats

	if err := g.registerBuiltins(authenticator); err != nil {
		cancel()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) registerBuiltins(authenticator auth.Authenticator) error {
	authH, err := NewAuthHandler(authenticator)
	if err != nil {
		return err
	}
	subH, err := NewSubscribeHandler(g.subs, g.policy, g.events)
	if err != nil {
		return err
	}
	unsubH, err := NewUnsubscribeHandler(g.subs, g.events)
	if err != nil {
		return err
	}
	hbH, err := NewHeartbeatHandler(g.conns)
	if err != nil {
		return err
	}
	logoutH, err := NewLogoutHandler(g.sessions, g.subs)
	if err != nil {
		return err
	}

	builtins := []struct {
		msgType string
		handler Handler
		opts    []RouteOption
	}{
		{TypeAuth, authH, []RouteOption{RequireParams()}},
		{TypeSubscribe, subH, []RouteOption{RequireStream(), CountsAsSubscription()}},
		{TypeUnsubscribe, unsubH, []RouteOption{RequireStream()}},
		{TypeHeartbeat, hbH, nil},
		{TypeLogout, logoutH, nil},
	}
	for _, b := range builtins {
		if err := g.router.Register(b.msgType, b.handler, b.opts...); err != nil {
			return err
		}
	}
	return nil
}

// Register 注册业务消息处理器，必须在第一个连接到来之前调用
func (g *Gateway) Register(msgType string, handler Handler, opts ...RouteOption) error {
	return g.router.Register(msgType, handler, opts...)
}

// Use 添加路由中间件
func (g *Gateway) Use(middleware ...MiddlewareFunc) {
	g.router.Use(middleware...)
}

// Publish 广播到主题
func (g *Gateway) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) int {
	return g.broadcaster.Publish(ctx, topic, payload, opts...)
}

// Conns 连接管理器
func (g *Gateway) Conns() *ConnectionManager { return g.conns }

// Subscriptions 订阅管理器
func (g *Gateway) Subscriptions() *SubscriptionManager { return g.subs }

// Broadcaster 广播器
func (g *Gateway) Broadcaster() *Broadcaster { return g.broadcaster }

// Sessions 会话存储
func (g *Gateway) Sessions() *session.Store { return g.sessions }

// Events 事件总线，未配置时为 nil
func (g *Gateway) Events() *EventBus { return g.events }

// SetLimits 热更新限流配置
func (g *Gateway) SetLimits(l Limits) {
	g.conns.SetLimits(l)
	g.subs.SetMaxPerClient(l.MaxSubscriptionsPerClient)
}

// Stats 计数快照
func (g *Gateway) Stats() Stats {
	return Stats{
		Connections:      g.conns.Count(),
		Accepted:         g.stats.accepted.Load(),
		Rejected:         g.stats.rejected.Load(),
		Restored:         g.stats.restored.Load(),
		MessagesRouted:   g.stats.messagesRouted.Load(),
		MessageErrors:    g.stats.messageErrors.Load(),
		Broadcasts:       g.stats.broadcasts.Load(),
		Delivered:        g.stats.delivered.Load(),
		DeliveryFailures: g.stats.deliveryFailures.Load(),
		Dropped:          g.stats.dropped.Load(),
		DroppedEvents:    g.events.DroppedEvents(),
	}
}

// Run 启动心跳巡检与会话清理，阻塞直到 ctx 结束
func (g *Gateway) Run(ctx context.Context) error {
	g.freezeOnce.Do(g.router.Freeze)
	g.sessions.Start(ctx)
	g.log.Info("gateway started",
		zap.Int("max_connections", g.cfg.MaxConnections),
		zap.Duration("heartbeat_interval", g.cfg.HeartbeatInterval),
		zap.Strings("message_types", g.router.Types()),
	)
	g.conns.RunHeartbeatMonitor(ctx)
	return nil
}

// Shutdown 以 1001 关闭所有连接并等待清理完成
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		return nil
	}
	g.closing = true
	g.mu.Unlock()

	g.log.Info("gateway shutting down", zap.Int("connections", g.conns.Count()))
	g.conns.CloseAll(CloseShutdown, ReasonShutdown)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		g.log.Warn("gateway shutdown timed out", zap.Int("connections", g.conns.Count()))
	}
	g.cancel()
	g.sessions.Stop()
	return err
}

// HandleUpgrade 升级 HTTP 请求并在当前 goroutine 中服务该连接直到关闭
func (g *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		http.Error(w, ReasonShutdown, http.StatusServiceUnavailable)
		return ErrServiceUnavailable
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	g.freezeOnce.Do(g.router.Freeze)

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已写入 HTTP 错误响应
		g.log.Debug("upgrade failed", zap.String("ip", RemoteIP(r)), zap.Error(err))
		return err
	}
	g.serve(NewMetadata(r), ReconnectToken(r), wsConn)
	return nil
}

// serve 单个连接的完整生命周期
func (g *Gateway) serve(meta Metadata, token string, wsConn *websocket.Conn) {
	c := g.conns.newConn(wsConn, meta, g.cfg.MessageQueueSize)
	c.setState(StateAccepting)

	restored := g.restore(c, token)
	if restored == nil {
		c.setState(StateCreating)
		if err := g.conns.Add(c); err != nil {
			g.reject(c, err)
			return
		}
	}
	g.stats.accepted.Add(1)

	// 欢迎帧先于任何其他帧入队
	welcome, err := json.Marshal(newWelcomeFrame(c.ID(), g.sessions.GenerateReconnectToken(c.ID()), restored != nil, time.Now()))
	if err == nil {
		c.enqueue(welcome)
	}
	c.setState(StateWelcomed)
	go c.writePump(g.cfg.HeartbeatInterval, g.cfg.WriteWait)

	event := Event{Type: EventConnected, ClientID: c.ID(), UserID: c.UserID(), Metadata: meta}
	if restored != nil {
		g.resubscribe(c, restored.Data.Subscriptions)
		event.Type = EventRestored
		g.stats.restored.Add(1)
		g.metrics.IncrementRestoredSessions()
	}
	g.events.Publish(event)
	g.log.Info("client connected",
		zap.String("client_id", c.ID()),
		zap.String("ip", meta.IP),
		zap.Bool("restored", restored != nil),
	)

	g.readLoop(c)
	g.cleanup(c)
}

// restore 校验令牌并以旧 ID 登记连接，任何失败都退回到新建流程
func (g *Gateway) restore(c *Conn, token string) *session.Session {
	if token == "" {
		return nil
	}
	c.setState(StateRestoring)

	clientID, err := g.sessions.ParseReconnectToken(token)
	if err != nil {
		g.reconnectFailed("", err)
		return nil
	}
	s, err := g.sessions.Restore(g.ctx, clientID)
	if err != nil {
		g.reconnectFailed(clientID, err)
		return nil
	}
	if s == nil {
		g.reconnectFailed(clientID, ErrReconnectFailed.WithMessage("session not found or expired"))
		return nil
	}
	if !g.conns.Restore(clientID, c) {
		g.reconnectFailed(clientID, ErrReconnectFailed.WithMessage("client id still connected or capacity exhausted"))
		return nil
	}
	if s.Data.Authenticated {
		c.SetIdentity(s.Data.UserID, s.Data.Permissions)
	}
	return s
}

func (g *Gateway) reconnectFailed(clientID string, err error) {
	g.log.Info(ErrReconnectFailed.Code, zap.String("client_id", clientID), zap.Error(err))
}

// resubscribe 恢复断线前的订阅，单条失败只记录日志
func (g *Gateway) resubscribe(c *Conn, subs []session.Subscription) {
	for _, sub := range subs {
		if err := g.subs.Subscribe(c.ID(), sub.Topic, Filter(sub.Filter)); err != nil {
			g.log.Warn("restore subscription failed",
				zap.String("client_id", c.ID()),
				zap.String("stream", sub.Topic),
				zap.Error(err),
			)
		}
	}
}

// reject 容量已满，欢迎帧之前以 1013 关闭
func (g *Gateway) reject(c *Conn, err error) {
	g.log.Warn("connection rejected", zap.String("ip", c.meta.IP), zap.Error(err))
	msg := websocket.FormatCloseMessage(CloseCapacityExceeded, ReasonCapacityExceeded)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteWait))
	_ = c.ws.Close()
	c.Close(CloseCapacityExceeded, ReasonCapacityExceeded)
	c.setState(StateClosed)
	g.metrics.IncrementClosed(ReasonCapacityExceeded)
}

// readLoop 按序处理入站帧直到连接关闭
func (g *Gateway) readLoop(c *Conn) {
	c.ws.SetReadLimit(g.cfg.MaxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.touch(g.conns.now())
		return nil
	})
	c.setState(StateReceiving)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			g.readFailed(c, err)
			return
		}

		reply, err := g.router.Route(g.ctx, c, raw)
		if err != nil && isMalformed(err) {
			c.invalidFrames++
			g.metrics.IncrementInvalidFrames()
			if c.invalidFrames >= g.cfg.MaxInvalidFrames {
				g.send(c, reply)
				g.log.Warn("too many invalid frames", zap.String("client_id", c.ID()), zap.Int("count", c.invalidFrames))
				c.Close(CloseProtocolViolation, ReasonProtocolViolation)
				return
			}
		} else {
			c.invalidFrames = 0
		}
		if reply != nil {
			g.send(c, reply)
		}
	}
}

// readFailed 区分对端关闭、服务端主动关闭与异常断开
func (g *Gateway) readFailed(c *Conn, err error) {
	select {
	case <-c.closed:
		return
	default:
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.Close(ce.Code, ReasonClientClosed)
		return
	}
	g.log.Debug("read failed", zap.String("client_id", c.ID()), zap.Error(err))
	c.Close(websocket.CloseAbnormalClosure, ReasonReadFailed)
}

func (g *Gateway) send(c *Conn, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		g.log.Error("marshal reply failed", zap.String("client_id", c.ID()), zap.Error(err))
		return
	}
	g.conns.deliver(c, data)
}

// cleanup 快照会话、清理订阅、释放连接，无论关闭原因都会执行
func (g *Gateway) cleanup(c *Conn) {
	id := c.ID()
	_, reason := c.CloseStatus()

	if !c.LoggedOut() {
		entries := g.subs.EntriesOf(id)
		subs := make([]session.Subscription, 0, len(entries))
		for _, e := range entries {
			subs = append(subs, session.Subscription{Topic: e.Topic, Filter: e.Filter})
		}
		data := session.Data{
			Authenticated: c.IsAuthenticated(),
			UserID:        c.UserID(),
			Permissions:   c.Permissions(),
			Subscriptions: subs,
			LastSeen:      time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), g.cfg.WriteWait)
		if err := g.sessions.Save(ctx, id, data); err != nil {
			g.log.Error("save session failed", zap.String("client_id", id), zap.Error(err))
		}
		cancel()
	}

	g.subs.Clear(id)
	g.conns.Release(c, reason)
	g.events.Publish(Event{Type: EventDisconnected, ClientID: id, UserID: c.UserID(), Reason: reason, Metadata: c.meta})

	<-c.writeDone
	c.setState(StateClosed)
	g.metrics.IncrementClosed(reason)
	g.log.Info("client disconnected", zap.String("client_id", id), zap.String("reason", reason))
}
