package market

import (
	"context"
	"fmt"
	"time"

	"github.com/tokmz/pushgate/pkg/ws"
)

// TypeMarketStatus 消息类型
const TypeMarketStatus = "market_status"

// StatusRequest market_status 参数，均可省略
type StatusRequest struct {
	MIC string `json:"mic"`
}

// StatusReply market_status 响应
type StatusReply struct {
	ws.ReplyMeta
	Type string `json:"type"`
	Status
}

// StatusHandler 处理 market_status 帧
type StatusHandler struct {
	clock *Clock
}

// NewStatusHandler 创建处理器
func NewStatusHandler(clock *Clock) (*StatusHandler, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: market clock", ws.ErrMissingDependency)
	}
	return &StatusHandler{clock: clock}, nil
}

func (h *StatusHandler) Handle(_ context.Context, req *ws.Request) (any, error) {
	var p StatusRequest
	if req.Frame.HasParams() {
		if err := req.Frame.Bind(&p); err != nil {
			return nil, err
		}
	}
	st, err := h.clock.Status(p.MIC, time.Time{})
	if err != nil {
		return nil, err
	}
	return &StatusReply{Type: TypeMarketStatus, Status: st}, nil
}

// Register 在网关上注册 market_status
func Register(gw *ws.Gateway, clock *Clock) error {
	h, err := NewStatusHandler(clock)
	if err != nil {
		return err
	}
	return gw.Register(TypeMarketStatus, h)
}
