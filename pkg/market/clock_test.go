package market

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/ws"
)

// weekdayIn 返回 year 年 month 月 day 日之后第一个指定星期几
func weekdayIn(loc *time.Location, year int, month time.Month, day int, wd time.Weekday, hour, minute int) time.Time {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	for t.Weekday() != wd {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func newTestClock(t *testing.T) (*Clock, *time.Location) {
	t.Helper()
	c, err := NewClock(&Config{Markets: []string{"XNYS", "xlon"}, Default: "xnys"})
	require.NoError(t, err)
	loc, err := c.Location("xnys")
	require.NoError(t, err)
	return c, loc
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Markets: []string{"xnys"}, Default: "xlon"}).Validate(), ErrInvalidConfig)
}

func TestClockStatus(t *testing.T) {
	c, loc := newTestClock(t)
	year := time.Now().Year()

	// 六月上旬的周二没有美股假日
	tuesday := weekdayIn(loc, year, time.June, 2, time.Tuesday, 11, 0)

	tests := []struct {
		name        string
		at          time.Time
		open        bool
		businessDay bool
	}{
		{name: "session", at: tuesday, open: true, businessDay: true},
		{name: "before open", at: tuesday.Add(-2 * time.Hour), open: false, businessDay: true},
		{name: "after close", at: tuesday.Add(6 * time.Hour), open: false, businessDay: true},
		{name: "saturday", at: tuesday.AddDate(0, 0, 4), open: false, businessDay: false},
		{name: "christmas", at: time.Date(year, time.December, 25, 11, 0, 0, 0, loc), open: false, businessDay: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := c.Status("", tt.at.UTC())
			require.NoError(t, err)
			assert.Equal(t, "xnys", st.MIC)
			assert.Equal(t, tt.open, st.Open)
			assert.Equal(t, tt.businessDay, st.BusinessDay)
			assert.Equal(t, loc.String(), st.Timezone)
			assert.True(t, st.LocalTime.Equal(tt.at))
		})
	}
}

func TestClockMarkets(t *testing.T) {
	c, _ := newTestClock(t)
	assert.Equal(t, []string{"xlon", "xnys"}, c.Markets())
	assert.Equal(t, "xnys", c.Default())

	_, err := c.Status("xtks", time.Now())
	assert.ErrorIs(t, err, ErrUnknownMarket)
	assert.Equal(t, "validation_error", pkgerrors.CodeOf(err))
	assert.False(t, c.IsOpen("xtks"))
}

func TestFallbackCalendar(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tc := &tradingCalendar{loc: loc, fallback: true}

	monday := weekdayIn(loc, 2024, time.March, 4, time.Monday, 9, 30)
	assert.True(t, tc.isOpen(monday))
	assert.False(t, tc.isOpen(monday.Add(-time.Minute)))
	assert.False(t, tc.isOpen(monday.Add(390*time.Minute)))
	assert.False(t, tc.isBusinessDay(monday.AddDate(0, 0, 6)))
}

func TestStatusHandler(t *testing.T) {
	c, loc := newTestClock(t)
	fixed := weekdayIn(loc, time.Now().Year(), time.June, 2, time.Tuesday, 11, 0)
	c.now = func() time.Time { return fixed }

	h, err := NewStatusHandler(c)
	require.NoError(t, err)

	reply, err := h.Handle(context.Background(), &ws.Request{
		ClientID: "c-1",
		Frame:    &ws.Frame{Type: TypeMarketStatus, RequestID: "r-1"},
	})
	require.NoError(t, err)
	sr := reply.(*StatusReply)
	sr.SetRequestID("r-1")

	raw, err := json.Marshal(sr)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "market_status", body["type"])
	assert.Equal(t, "xnys", body["mic"])
	assert.Equal(t, true, body["open"])
	assert.Equal(t, "r-1", body["request_id"])

	_, err = h.Handle(context.Background(), &ws.Request{
		ClientID: "c-1",
		Frame:    &ws.Frame{Type: TypeMarketStatus, Params: json.RawMessage(`{"mic":"xhkg"}`)},
	})
	assert.ErrorIs(t, err, ErrUnknownMarket)

	_, err = h.Handle(context.Background(), &ws.Request{
		ClientID: "c-1",
		Frame:    &ws.Frame{Type: TypeMarketStatus, Params: json.RawMessage(`[1]`)},
	})
	assert.ErrorIs(t, err, ws.ErrValidation)
}

func TestNewStatusHandlerRequiresClock(t *testing.T) {
	_, err := NewStatusHandler(nil)
	assert.ErrorIs(t, err, ws.ErrMissingDependency)
	assert.ErrorIs(t, Register(nil, nil), ws.ErrMissingDependency)
}
