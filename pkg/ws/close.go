package ws

import "github.com/gorilla/websocket"

// 关闭码
const (
	CloseNormal            = websocket.CloseNormalClosure // 1000
	CloseShutdown          = websocket.CloseGoingAway     // 1001
	CloseProtocolViolation = websocket.ClosePolicyViolation
	CloseCapacityExceeded  = websocket.CloseTryAgainLater // 1013
	CloseHeartbeatTimeout  = 3008
	CloseSlowConsumer      = 3009
)

// 关闭原因
const (
	ReasonNormal            = "normal"
	ReasonShutdown          = "shutdown"
	ReasonProtocolViolation = "protocol_violation"
	ReasonCapacityExceeded  = "capacity_exceeded"
	ReasonHeartbeatTimeout  = "heartbeat_timeout"
	ReasonSlowConsumer      = "slow_consumer"
	ReasonWriteFailed       = "write_failed"
	ReasonReadFailed        = "read_failed"
	ReasonClientClosed      = "client_closed"
)
