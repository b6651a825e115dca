// Package ws 实时推送网关的 WebSocket 层。
//
// 组件：
//
//   - ConnectionManager：连接表、容量上限、心跳超时、每连接限流
//   - SubscriptionManager：主题订阅与过滤条件
//   - MessageRouter：帧校验、限流、认证与处理器分发
//   - Broadcaster：按主题并发投递
//   - Gateway：串起上述组件并驱动连接生命周期
//
// 基本用法：
//
//	store, _ := session.New(session.NewMemoryBackend(), session.DefaultConfig(), log)
//	authn, _ := auth.New(authCfg, nil, log)
//
//	gw, err := ws.New(ws.DefaultConfig(), store, authn, log,
//	    ws.WithEventBus(ws.NewEventBus(4, 1024)),
//	)
//	if err != nil {
//	    return err
//	}
//	gw.Use(ws.TracingMiddleware(), ws.LoggingMiddleware(log))
//	_ = gw.Register("session_start", cmdHandler, ws.RequireAuth(), ws.RequireSessionID())
//
//	go gw.Run(ctx)
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    _ = gw.HandleUpgrade(w, r)
//	})
//
//	n := gw.Publish(ctx, "market_data", quote)
//
// 断线后客户端携带欢迎帧中的 reconnect_token 重连（X-Reconnect-Token 头或
// reconnect_token 查询参数），在会话 TTL 内恢复认证状态与订阅。
package ws
