// Package market 提供交易所交易时段查询，并以 market_status 消息暴露给客户端。
package market

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"github.com/tokmz/pushgate/pkg/errors"
)

var (
	ErrInvalidConfig = errors.New("market_invalid_config", "invalid market config", http.StatusInternalServerError)
	// ErrUnknownMarket 未配置的交易所
	ErrUnknownMarket = errors.ErrValidation.WithMessage("unknown market")
)

// Config 交易所配置，MIC 使用 ISO 10383 小写代码
type Config struct {
	Markets []string `mapstructure:"markets"`
	Default string   `mapstructure:"default"`

	// Announce 非空时向 market_status 主题推送开收市切换
	Announce *AnnouncerConfig `mapstructure:"announce"`
}

// DefaultConfig 默认仅加载纽交所
func DefaultConfig() *Config {
	return &Config{Markets: []string{"xnys"}, Default: "xnys"}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("%w: at least one market is required", ErrInvalidConfig)
	}
	if c.Default != "" && !slices.Contains(c.Markets, strings.ToLower(c.Default)) {
		return fmt.Errorf("%w: default market %q is not in markets", ErrInvalidConfig, c.Default)
	}
	return nil
}

// Status 某一时刻的交易状态
type Status struct {
	MIC         string    `json:"mic"`
	Open        bool      `json:"open"`
	BusinessDay bool      `json:"business_day"`
	LocalTime   time.Time `json:"local_time"`
	Timezone    string    `json:"timezone"`
	Fallback    bool      `json:"fallback,omitempty"`
}

// tradingCalendar 单个交易所，日历加载失败时退化为周一至周五 09:30-16:00
type tradingCalendar struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

func loadCalendar(mic string) *tradingCalendar {
	if cal := calendar.GetCalendar(mic); cal != nil {
		return &tradingCalendar{cal: cal, loc: cal.Loc}
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &tradingCalendar{loc: loc, fallback: true}
}

func (tc *tradingCalendar) isBusinessDay(t time.Time) bool {
	if tc.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return tc.cal.IsBusinessDay(t)
}

func (tc *tradingCalendar) isOpen(t time.Time) bool {
	if tc.fallback {
		if !tc.isBusinessDay(t) {
			return false
		}
		minutes := t.Hour()*60 + t.Minute()
		return minutes >= 9*60+30 && minutes < 16*60
	}
	return tc.cal.IsOpen(t)
}

// Clock 多交易所时钟，日历在创建时一次性加载
type Clock struct {
	calendars map[string]*tradingCalendar
	def       string
	now       func() time.Time
}

// NewClock 加载配置中的全部交易所
func NewClock(cfg *Config) (*Clock, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Clock{calendars: make(map[string]*tradingCalendar, len(cfg.Markets)), now: time.Now}
	for _, mic := range cfg.Markets {
		mic = strings.ToLower(mic)
		c.calendars[mic] = loadCalendar(mic)
	}
	c.def = strings.ToLower(cfg.Default)
	if c.def == "" {
		c.def = strings.ToLower(cfg.Markets[0])
	}
	return c, nil
}

// Markets 已加载的交易所
func (c *Clock) Markets() []string {
	out := make([]string, 0, len(c.calendars))
	for mic := range c.calendars {
		out = append(out, mic)
	}
	slices.Sort(out)
	return out
}

// Default 默认交易所
func (c *Clock) Default() string { return c.def }

// Location 交易所时区
func (c *Clock) Location(mic string) (*time.Location, error) {
	tc, err := c.lookup(mic)
	if err != nil {
		return nil, err
	}
	return tc.loc, nil
}

// Status 查询交易状态，mic 为空时使用默认交易所
func (c *Clock) Status(mic string, at time.Time) (Status, error) {
	if mic == "" {
		mic = c.def
	}
	mic = strings.ToLower(mic)
	tc, err := c.lookup(mic)
	if err != nil {
		return Status{}, err
	}
	if at.IsZero() {
		at = c.now()
	}
	local := at.In(tc.loc)
	return Status{
		MIC:         mic,
		Open:        tc.isOpen(local),
		BusinessDay: tc.isBusinessDay(local),
		LocalTime:   local,
		Timezone:    tc.loc.String(),
		Fallback:    tc.fallback,
	}, nil
}

// IsOpen 交易所当前是否开市
func (c *Clock) IsOpen(mic string) bool {
	st, err := c.Status(mic, time.Time{})
	return err == nil && st.Open
}

func (c *Clock) lookup(mic string) (*tradingCalendar, error) {
	tc, ok := c.calendars[strings.ToLower(mic)]
	if !ok {
		return nil, ErrUnknownMarket.WithMessage(fmt.Sprintf("unknown market %q", mic))
	}
	return tc, nil
}
