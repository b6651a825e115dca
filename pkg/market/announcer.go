package market

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/ws"
)

// StreamMarketStatus 开收市通知主题
const StreamMarketStatus = "market_status"

// Publisher 广播接口，*ws.Gateway 实现
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...ws.PublishOption) int
}

// AnnouncerConfig 开收市通知
type AnnouncerConfig struct {
	// Schedule 检查周期（cron 表达式，按交易所时区解释），默认每分钟
	Schedule string `mapstructure:"schedule"`
	Stream   string `mapstructure:"stream"`
}

func (c *AnnouncerConfig) setDefaults() {
	if c.Schedule == "" {
		c.Schedule = "* * * * *"
	}
	if c.Stream == "" {
		c.Stream = StreamMarketStatus
	}
}

// Announcer 按 cron 周期检查各交易所状态，开收市切换时向主题发布 Status
type Announcer struct {
	clock *Clock
	pub   Publisher
	cfg   AnnouncerConfig
	log   logger.Logger
	cron  *cron.Cron

	mu   sync.Mutex
	last map[string]bool
}

// NewAnnouncer 为每个交易所注册一条 CRON_TZ 任务
func NewAnnouncer(clock *Clock, pub Publisher, cfg *AnnouncerConfig, log logger.Logger) (*Announcer, error) {
	if clock == nil || pub == nil {
		return nil, ws.ErrMissingDependency
	}
	if cfg == nil {
		cfg = &AnnouncerConfig{}
	}
	c := *cfg
	c.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	a := &Announcer{
		clock: clock,
		pub:   pub,
		cfg:   c,
		log:   log.With(zap.String("component", "market_announcer")),
		cron:  cron.New(),
		last:  make(map[string]bool),
	}
	for _, mic := range clock.Markets() {
		loc, _ := clock.Location(mic)
		spec := "CRON_TZ=" + loc.String() + " " + c.Schedule
		if _, err := a.cron.AddFunc(spec, func() { a.Check(context.Background(), mic) }); err != nil {
			return nil, ErrInvalidConfig.WithMessage("invalid announcer schedule").WithError(err)
		}
	}
	return a, nil
}

// Run 启动调度，阻塞直到 ctx 结束
func (a *Announcer) Run(ctx context.Context) error {
	for _, mic := range a.clock.Markets() {
		a.Check(ctx, mic)
	}
	a.cron.Start()
	<-ctx.Done()
	<-a.cron.Stop().Done()
	return nil
}

// Check 比较当前状态与上次记录，发生切换时发布，返回是否发布
//
// 首次检查只记录状态。
func (a *Announcer) Check(ctx context.Context, mic string) bool {
	st, err := a.clock.Status(mic, a.clock.now())
	if err != nil {
		a.log.Warn("market status failed", zap.String("mic", mic), zap.Error(err))
		return false
	}

	a.mu.Lock()
	prev, seen := a.last[mic]
	a.last[mic] = st.Open
	a.mu.Unlock()

	if !seen || prev == st.Open {
		return false
	}
	n := a.pub.Publish(ctx, a.cfg.Stream, st)
	a.log.Info("market session changed",
		zap.String("mic", mic),
		zap.Bool("open", st.Open),
		zap.Int("delivered", n),
	)
	return true
}
