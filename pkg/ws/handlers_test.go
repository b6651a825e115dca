package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/pushgate/pkg/auth"
	pkgerrors "github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessions(t *testing.T, opts ...session.Option) *session.Store {
	t.Helper()
	s, err := session.New(session.NewMemoryBackend(), &session.Config{TTL: time.Hour, Secret: testSecret}, logger.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func newRequest(c *Conn, f *Frame) *Request {
	return &Request{ClientID: c.ID(), Frame: f, Session: c, Conn: c}
}

type denyPolicy struct{}

func (denyPolicy) Authorize(topic string, _ []string, _ map[string]string) error {
	return ErrForbidden.WithMessage("no access to " + topic)
}

func TestHandlerConstructorsRequireDependencies(t *testing.T) {
	_, err := NewAuthHandler(nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewSubscribeHandler(nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewUnsubscribeHandler(nil, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewHeartbeatHandler(nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewLogoutHandler(nil, NewSubscriptionManager(0))
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = NewCommandHandler(nil, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestAuthHandler(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)
	h, err := NewAuthHandler(auth.NewStaticAuthenticator(map[string]auth.Identity{
		"tok-1": {UserID: "u-1", Permissions: []string{"trade", "read"}},
	}))
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), newRequest(c, &Frame{Type: TypeAuth, Params: json.RawMessage(`{"token":"nope"}`)}))
	assert.Equal(t, pkgerrors.CodeUnauthenticated, pkgerrors.CodeOf(err))
	assert.False(t, c.IsAuthenticated())

	reply, err := h.Handle(context.Background(), newRequest(c, &Frame{Type: TypeAuth, Params: json.RawMessage(`{"token":"tok-1"}`)}))
	require.NoError(t, err)
	ar := reply.(*AuthReply)
	assert.Equal(t, "authenticated", ar.Status)
	assert.Equal(t, []string{"read", "trade"}, ar.Permissions)
	assert.Equal(t, "u-1", c.UserID())
}

func TestSubscribeHandler(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)
	subs := NewSubscriptionManager(0)
	events := NewEventBus(1, 16)
	defer events.Close()

	got := make(chan Event, 1)
	events.Subscribe(EventSubscribed, func(e Event) { got <- e })

	h, err := NewSubscribeHandler(subs, nil, events)
	require.NoError(t, err)

	reply, err := h.Handle(context.Background(), newRequest(c, &Frame{
		Type:   TypeSubscribe,
		Stream: "quotes",
		Params: json.RawMessage(`{"symbol":"AAPL","depth":5}`),
	}))
	require.NoError(t, err)
	assert.Equal(t, &StreamReply{Type: TypeSubscribed, Stream: "quotes"}, reply)

	entries := subs.EntriesOf(c.ID())
	require.Len(t, entries, 1)
	assert.Equal(t, Filter{"symbol": "AAPL", "depth": "5"}, entries[0].Filter)

	select {
	case e := <-got:
		assert.Equal(t, "quotes", e.Stream)
		assert.Equal(t, c.ID(), e.ClientID)
	case <-time.After(time.Second):
		t.Fatal("subscribed event not published")
	}

	_, err = h.Handle(context.Background(), newRequest(c, &Frame{
		Type:   TypeSubscribe,
		Stream: "quotes",
		Params: json.RawMessage(`{"symbol":{"nested":true}}`),
	}))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSubscribeHandlerPolicy(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)
	subs := NewSubscriptionManager(0)
	h, err := NewSubscribeHandler(subs, denyPolicy{}, nil)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), newRequest(c, &Frame{Type: TypeSubscribe, Stream: "orders"}))
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	assert.Zero(t, subs.CountOf(c.ID()))
}

func TestUnsubscribeHandler(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)
	subs := NewSubscriptionManager(0)
	require.NoError(t, subs.Subscribe(c.ID(), "quotes", nil))

	h, err := NewUnsubscribeHandler(subs, nil)
	require.NoError(t, err)
	reply, err := h.Handle(context.Background(), newRequest(c, &Frame{Type: TypeUnsubscribe, Stream: "quotes"}))
	require.NoError(t, err)
	assert.Equal(t, &StreamReply{Type: TypeUnsubscribed, Stream: "quotes"}, reply)
	assert.Zero(t, subs.CountOf(c.ID()))
}

func TestHeartbeatHandlerTouches(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	c := addConn(t, m)
	clock.Advance(time.Minute)

	h, err := NewHeartbeatHandler(m)
	require.NoError(t, err)
	reply, err := h.Handle(context.Background(), newRequest(c, &Frame{Type: TypeHeartbeat}))
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.(*HeartbeatReply).Status)
	assert.True(t, clock.Now().Equal(c.LastHeartbeat()))
}

func TestLogoutHandler(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	c := addConn(t, m)
	c.SetIdentity("u-1", []string{"read"})
	subs := NewSubscriptionManager(0)
	require.NoError(t, subs.Subscribe(c.ID(), "quotes", nil))
	sessions := newTestSessions(t)
	require.NoError(t, sessions.Save(ctx, c.ID(), session.Data{Authenticated: true, UserID: "u-1"}))

	h, err := NewLogoutHandler(sessions, subs)
	require.NoError(t, err)
	reply, err := h.Handle(ctx, newRequest(c, &Frame{Type: TypeLogout}))
	require.NoError(t, err)
	assert.Equal(t, &StatusReply{Type: TypeLogout, Status: "ok"}, reply)

	assert.True(t, c.LoggedOut())
	assert.False(t, c.IsAuthenticated())
	assert.Zero(t, subs.CountOf(c.ID()))
	s, err := sessions.Restore(ctx, c.ID())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCommandHandler(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)
	c.SetIdentity("u-1", nil)
	frame := &Frame{Type: "session_start", SessionID: "s-9", Params: json.RawMessage(`{"mode":"paper"}`)}

	h, err := NewCommandHandler(nil, logger.NewNop())
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), newRequest(c, frame))
	assert.Equal(t, pkgerrors.CodeServiceUnavailable, pkgerrors.CodeOf(err))

	var got Command
	h, err = NewCommandHandler(CommandExecutorFunc(func(_ context.Context, cmd Command) (any, error) {
		got = cmd
		return map[string]string{"session_id": cmd.SessionID}, nil
	}), logger.NewNop())
	require.NoError(t, err)

	reply, err := h.Handle(context.Background(), newRequest(c, frame))
	require.NoError(t, err)
	cr := reply.(*CommandReply)
	assert.Equal(t, "accepted", cr.Status)
	assert.Equal(t, "session_start", cr.Type)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, c.ID(), got.ClientID)
	assert.JSONEq(t, `{"mode":"paper"}`, string(got.Params))
}
